package registration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
label: nuclei
setup:
  type: allToAllRange
  range: 2
matching:
  method: icp
  model: affine
  icp:
    maxCorrespondDist: 8
fixViews: explicit
fixedViews:
  - timepoint: 0
    setup: 1
mapBackReference:
  timepoint: 0
  setup: 2
grouping:
  mode: addAll
  groups:
    - views:
        - {timepoint: 0, setup: 0}
        - {timepoint: 0, setup: 1}
workers: 2
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "nuclei", cfg.Label)
	assert.Equal(t, TypeAllToAllRange, cfg.Setup.Type)
	assert.Equal(t, 2, cfg.Setup.Range)
	assert.Equal(t, MethodICP, cfg.Matching.Method)
	assert.Equal(t, ModelAffine, cfg.Matching.Model)
	assert.Equal(t, 8.0, cfg.Matching.ICP.MaxCorrespondDist)
	assert.Equal(t, DefaultICPConfig().MaxIterations, cfg.Matching.ICP.MaxIterations, "unset fields keep defaults")
	assert.Equal(t, []ViewID{view(0, 1)}, cfg.FixedViews)
	require.NotNil(t, cfg.MapBackReference)
	assert.Equal(t, view(0, 2), *cfg.MapBackReference)
	require.Len(t, cfg.Grouping.Groups, 1)
	assert.Equal(t, NewGroup(view(0, 0), view(0, 1)), cfg.Grouping.Groups[0])
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, DefaultRansacParams(), cfg.Matching.Ransac)
	assert.Equal(t, MapBackExact, cfg.MapBack)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	_, err = LoadConfig(writeConfig(t, "label: [unterminated"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "matching:\n  method: guess\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matching.method")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"empty label", func(c *Config) { c.Label = "" }, "label"},
		{"setup type", func(c *Config) { c.Setup.Type = "random" }, "setup.type"},
		{"negative range", func(c *Config) { c.Setup = SetupParams{Type: TypeAllToAllRange, Range: -1} }, "setup.range"},
		{"overlap", func(c *Config) { c.Overlap = "maybe" }, "overlap"},
		{"model", func(c *Config) { c.Matching.Model = "projective" }, "matching.model"},
		{"center of mass model", func(c *Config) { c.Matching.Method = MethodCenterOfMass }, "centerOfMass supports only the translation model"},
		{"descriptor model", func(c *Config) { c.Matching.Descriptor.Model = "warp" }, "matching.descriptor.model"},
		{"neighbors", func(c *Config) { c.Matching.Descriptor.NumNeighbors = 0 }, "numNeighbors"},
		{"redundancy", func(c *Config) { c.Matching.Descriptor.Redundancy = -1 }, "redundancy"},
		{"epsilon", func(c *Config) { c.Matching.Ransac.MaxEpsilon = 0 }, "maxEpsilon"},
		{"inlier ratio", func(c *Config) { c.Matching.Ransac.MinInlierRatio = 1.5 }, "minInlierRatio"},
		{"fix policy", func(c *Config) { c.FixViews = "all" }, "fixViews"},
		{"explicit without views", func(c *Config) { c.FixViews = FixExplicit }, "fixedViews"},
		{"map back", func(c *Config) { c.MapBack = "home" }, "mapBack"},
		{"grouping", func(c *Config) { c.Grouping.Mode = "some" }, "grouping.mode"},
		{"iterations", func(c *Config) { c.GlobalOpt.MaxIterations = 0 }, "globalOpt.maxIterations"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Matching.Descriptor.Model = ModelNone
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Matching.Method = MethodCenterOfMass
	cfg.Matching.Model = ModelTranslation
	assert.NoError(t, cfg.Validate())
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := DefaultConfig()
	cfg.Label = "saved"
	cfg.Matching.Model = ModelSimilarity
	ref := view(1, 2)
	cfg.MapBackReference = &ref
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Label)
	assert.Equal(t, ModelSimilarity, loaded.Matching.Model)
	assert.Equal(t, cfg.Matching.Descriptor, loaded.Matching.Descriptor)
	assert.Equal(t, cfg.GlobalOpt, loaded.GlobalOpt)
	assert.Equal(t, ref, *loaded.MapBackReference)
}

func TestGroupingRadius(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.Matching.Ransac.MaxEpsilon, cfg.GroupingRadius())
	cfg.Grouping.Radius = 1.5
	assert.Equal(t, 1.5, cfg.GroupingRadius())
}
