package registration

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MatchingMethod selects the pairwise matching algorithm.
type MatchingMethod string

const (
	MethodDescriptor   MatchingMethod = "descriptor"
	MethodICP          MatchingMethod = "icp"
	MethodCenterOfMass MatchingMethod = "centerOfMass"
)

// OverlapMode selects the overlap detector.
type OverlapMode string

const (
	OverlapAll         OverlapMode = "all"
	OverlapBoundingBox OverlapMode = "overlapping"
)

// MatchingConfig configures pairwise matching.
type MatchingConfig struct {
	Method             MatchingMethod   `yaml:"method" json:"method"`
	Model              ModelType        `yaml:"model" json:"model"`
	Descriptor         DescriptorParams `yaml:"descriptor" json:"descriptor"`
	Ransac             RansacParams     `yaml:"ransac" json:"ransac"`
	ICP                ICPConfig        `yaml:"icp" json:"icp"`
	CenterOfMassMedian bool             `yaml:"centerOfMassMedian" json:"centerOfMassMedian"`
}

// GroupingConfig declares which views are matched as one point set.
type GroupingConfig struct {
	Mode   GroupingMode `yaml:"mode" json:"mode"`
	Groups []Group      `yaml:"groups,omitempty" json:"groups,omitempty"`
	// Radius merges grouped points closer than this; 0 uses the RANSAC max epsilon.
	Radius float64 `yaml:"radius,omitempty" json:"radius,omitempty"`
}

// MQTTConfig holds MQTT connection settings for the statistics stream.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StorageConfig names where datasets and run history live.
type StorageConfig struct {
	Dataset string `yaml:"dataset" json:"dataset"`
	SQLite  string `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
}

// Config is the full configuration of a registration run.
type Config struct {
	Label            string          `yaml:"label" json:"label"`
	Views            []ViewID        `yaml:"views,omitempty" json:"views,omitempty"`
	Setup            SetupParams     `yaml:"setup" json:"setup"`
	Overlap          OverlapMode     `yaml:"overlap" json:"overlap"`
	Matching         MatchingConfig  `yaml:"matching" json:"matching"`
	FixViews         FixPolicy       `yaml:"fixViews" json:"fixViews"`
	FixedViews       []ViewID        `yaml:"fixedViews,omitempty" json:"fixedViews,omitempty"`
	MapBack          MapBackMode     `yaml:"mapBack" json:"mapBack"`
	MapBackReference *ViewID         `yaml:"mapBackReference,omitempty" json:"mapBackReference,omitempty"`
	Grouping         GroupingConfig  `yaml:"grouping" json:"grouping"`
	GlobalOpt        GlobalOptParams `yaml:"globalOpt" json:"globalOpt"`
	Workers          int             `yaml:"workers" json:"workers"`
	Seed             int64           `yaml:"seed" json:"seed"`
	// ClearCorrespondences forgets earlier correspondences of the registered
	// views before new ones are stored.
	ClearCorrespondences bool          `yaml:"clearCorrespondences" json:"clearCorrespondences"`
	Logging              LogConfig     `yaml:"logging" json:"logging"`
	MQTT                 MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Storage              StorageConfig `yaml:"storage" json:"storage"`
	HTTPAddr             string        `yaml:"httpAddr,omitempty" json:"httpAddr,omitempty"`
}

// DefaultConfig returns a configuration that registers every view with
// descriptor matching and a rigid model.
func DefaultConfig() *Config {
	return &Config{
		Label:   "beads",
		Setup:   SetupParams{Type: TypeIndividual},
		Overlap: OverlapAll,
		Matching: MatchingConfig{
			Method:     MethodDescriptor,
			Model:      ModelRigid,
			Descriptor: DefaultDescriptorParams(),
			Ransac:     DefaultRansacParams(),
			ICP:        DefaultICPConfig(),
		},
		FixViews:             FixFirst,
		MapBack:              MapBackExact,
		Grouping:             GroupingConfig{Mode: GroupingNone},
		GlobalOpt:            DefaultGlobalOptParams(),
		Workers:              4,
		Seed:                 1,
		ClearCorrespondences: true,
		Logging:              LogConfig{Level: "info", Format: "console"},
		MQTT:                 MQTTConfig{PublishPrefix: "multiview", ClientID: "multiview"},
		Storage:              StorageConfig{Dataset: "dataset.json"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("config file not found: %s", path)
		}
		return nil, errors.Wrap(err, "reading config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "parsing config YAML")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "marshaling config YAML")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing config file")
	}
	return nil
}

// Validate checks every enumerated option and the numeric ranges.
func (c *Config) Validate() error {
	if c.Label == "" {
		return errors.New("label is required")
	}
	if !c.Setup.Type.Valid() {
		return errors.Errorf("setup.type %q must be one of individual, referenceTimepoint, allToAll, allToAllRange", c.Setup.Type)
	}
	if c.Setup.Type == TypeAllToAllRange && c.Setup.Range < 0 {
		return errors.Errorf("setup.range must not be negative, got %d", c.Setup.Range)
	}
	if c.Overlap != OverlapAll && c.Overlap != OverlapBoundingBox {
		return errors.Errorf("overlap %q must be all or overlapping", c.Overlap)
	}
	switch c.Matching.Method {
	case MethodDescriptor, MethodICP, MethodCenterOfMass:
	default:
		return errors.Errorf("matching.method %q must be descriptor, icp or centerOfMass", c.Matching.Method)
	}
	if !c.Matching.Model.Valid() {
		return errors.Errorf("matching.model %q must be translation, rigid, similarity or affine", c.Matching.Model)
	}
	if c.Matching.Method == MethodCenterOfMass && c.Matching.Model != ModelTranslation {
		return errors.Errorf("matching.method centerOfMass supports only the translation model, got %q", c.Matching.Model)
	}
	if c.Matching.Descriptor.Model != ModelNone && !c.Matching.Descriptor.Model.Valid() {
		return errors.Errorf("matching.descriptor.model %q is not a model type", c.Matching.Descriptor.Model)
	}
	if c.Matching.Descriptor.NumNeighbors < 1 {
		return errors.Errorf("matching.descriptor.numNeighbors must be positive, got %d", c.Matching.Descriptor.NumNeighbors)
	}
	if c.Matching.Descriptor.Redundancy < 0 {
		return errors.Errorf("matching.descriptor.redundancy must not be negative, got %d", c.Matching.Descriptor.Redundancy)
	}
	if c.Matching.Ransac.MaxEpsilon <= 0 {
		return errors.Errorf("matching.ransac.maxEpsilon must be positive, got %g", c.Matching.Ransac.MaxEpsilon)
	}
	if r := c.Matching.Ransac.MinInlierRatio; r < 0 || r > 1 {
		return errors.Errorf("matching.ransac.minInlierRatio must be in [0,1], got %g", r)
	}
	if !c.FixViews.Valid() {
		return errors.Errorf("fixViews %q must be first, explicit or none", c.FixViews)
	}
	if c.FixViews == FixExplicit && len(c.FixedViews) == 0 {
		return errors.New("fixViews is explicit but fixedViews is empty")
	}
	if !c.MapBack.Valid() {
		return errors.Errorf("mapBack %q must be none, exact, translation or rigid", c.MapBack)
	}
	if c.Grouping.Mode != GroupingNone && c.Grouping.Mode != GroupingAddAll {
		return errors.Errorf("grouping.mode %q must be none or addAll", c.Grouping.Mode)
	}
	if c.GlobalOpt.MaxIterations < 1 {
		return errors.Errorf("globalOpt.maxIterations must be positive, got %d", c.GlobalOpt.MaxIterations)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// GroupingRadius is the configured radius or, when unset, the RANSAC max epsilon.
func (c *Config) GroupingRadius() float64 {
	if c.Grouping.Radius > 0 {
		return c.Grouping.Radius
	}
	return c.Matching.Ransac.MaxEpsilon
}
