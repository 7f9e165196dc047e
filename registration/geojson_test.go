package registration

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFootprint(t *testing.T) {
	poly := Footprint(vec(10, 20, 5), Translation(5, 0, 3))
	require.Len(t, poly, 1)
	ring := poly[0]
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring is closed")

	centre, area := planar.CentroidArea(poly)
	assert.InDelta(t, 200.0, math.Abs(area), epsilon)
	assert.InDelta(t, 10.0, centre[0], epsilon)
	assert.InDelta(t, 10.0, centre[1], epsilon)

	// a rotation about Z keeps the area
	rotated := Footprint(vec(10, 20, 5), RotationZ(math.Pi/6))
	assert.InDelta(t, 200.0, math.Abs(planar.Area(rotated)), 1e-9)
}

func TestConvexHull(t *testing.T) {
	points := []orb.Point{{0, 0}, {2, 0}, {1, 1}, {2, 2}, {0, 2}, {1, 0}}
	hull := convexHull(points)
	assert.ElementsMatch(t, []orb.Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}, hull)
	assert.Len(t, convexHull(points[:2]), 2)
}

func TestFootprintCollection(t *testing.T) {
	views := []ViewDescription{
		{ID: view(0, 1), Size: vec(10, 10, 10)},
		{ID: view(0, 0), Size: vec(10, 10, 10)},
	}
	regs := map[ViewID]ViewRegistration{
		view(0, 0): {View: view(0, 0)},
		view(0, 1): {View: view(0, 1), Transforms: []ViewTransform{{Name: TransformName(ModelRigid), Transform: Translation(8, 0, 0)}}},
	}
	report := &Report{Pairs: []PairStatistics{
		{A: NewGroup(view(0, 0)), B: NewGroup(view(0, 1)), Inliers: 12, AvgError: 0.25},
		{A: NewGroup(view(0, 0)), B: NewGroup(view(0, 1)), Failed: true},
		{A: NewGroup(view(0, 0)), B: NewGroup(view(4, 4)), Inliers: 3},
	}}

	fc := FootprintCollection(views, func(v ViewID) ViewRegistration { return regs[v] }, report)
	require.Len(t, fc.Features, 3)

	first := fc.Features[0]
	assert.Equal(t, "tpId=0 setupId=0", first.ID)
	assert.Equal(t, "view", first.Properties["kind"])
	assert.Equal(t, 0, first.Properties["transforms"])
	assert.NotContains(t, first.Properties, "latest")

	second := fc.Features[1]
	assert.Equal(t, TransformName(ModelRigid), second.Properties["latest"])

	pair := fc.Features[2]
	assert.Equal(t, "pair", pair.Properties["kind"])
	line, ok := pair.Geometry.(orb.LineString)
	require.True(t, ok)
	assert.InDelta(t, 5.0, line[0][0], epsilon)
	assert.InDelta(t, 13.0, line[1][0], epsilon)
	assert.Equal(t, 12, pair.Properties["inliers"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)

	assert.Len(t, FootprintCollection(views, func(v ViewID) ViewRegistration { return regs[v] }, nil).Features, 2)
}
