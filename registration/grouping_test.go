package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupInterestPoints(t *testing.T) {
	a, b := view(0, 0), view(0, 1)
	points := map[ViewID][]InterestPoint{
		a: {
			{ID: 4, L: vec(1, 1, 1), W: vec(0, 0, 0), Weight: 1},
			{ID: 9, L: vec(11, 1, 1), W: vec(10, 0, 0), Weight: 1},
		},
		b: {
			{ID: 0, L: vec(0.5, 0, 0), W: vec(0.5, 0, 0), Weight: 1},
			{ID: 1, L: vec(20, 0, 0), W: vec(20, 0, 0), Weight: 1},
		},
	}
	group := NewGroup(b, a)

	all := GroupInterestPoints(group, points, 0)
	require.Len(t, all, 4)
	for i, g := range all {
		assert.Equal(t, int64(i), g.ID)
	}

	grouped := GroupInterestPoints(group, points, 1)
	require.Len(t, grouped, 3)
	assert.Equal(t, []ViewID{a, a, b}, []ViewID{grouped[0].View, grouped[1].View, grouped[2].View})
	assert.Equal(t, int64(4), grouped[0].OriginalID)
	assert.Equal(t, vec(1, 1, 1), grouped[0].OriginalL)
	assert.Equal(t, vec(0, 0, 0), grouped[0].L, "grouped points live in world coordinates")
	assert.Equal(t, int64(1), grouped[2].OriginalID)
	assert.Equal(t, int64(2), grouped[2].ID)

	plain := GroupedPoints(grouped)
	require.Len(t, plain, 3)
	assert.Equal(t, grouped[1].InterestPoint, plain[1])
}

func TestRedistributeGroupedResult(t *testing.T) {
	a, b, c := view(0, 0), view(0, 1), view(0, 2)
	points := map[ViewID][]InterestPoint{
		a: {NewInterestPoint(0, 0, 0, 0)},
		b: {NewInterestPoint(5, 50, 0, 0)},
		c: {NewInterestPoint(3, 0, 0, 1), NewInterestPoint(8, 50, 0, 1)},
	}
	ga, gc := NewGroup(a, b), NewGroup(c)
	groupedA := GroupInterestPoints(ga, points, 0)
	groupedC := GroupInterestPoints(gc, points, 0)

	r := PairwiseResult{A: ga, B: gc, Inliers: []PointMatch{
		NewPointMatch(groupedA[0].InterestPoint, groupedC[0].InterestPoint),
		NewPointMatch(groupedA[1].InterestPoint, groupedC[1].InterestPoint),
	}}
	out, err := RedistributeGroupedResult(r, groupedA, groupedC)
	require.NoError(t, err)
	require.Len(t, out, 2)

	ac := out[ViewPair{A: a, B: c}]
	require.Len(t, ac, 1)
	assert.Equal(t, int64(0), ac[0].P1.ID)
	assert.Equal(t, int64(3), ac[0].P2.ID)

	bc := out[ViewPair{A: b, B: c}]
	require.Len(t, bc, 1)
	assert.Equal(t, int64(5), bc[0].P1.ID)
	assert.Equal(t, int64(8), bc[0].P2.ID)

	r.Inliers = []PointMatch{NewPointMatch(NewInterestPoint(99, 0, 0, 0), groupedC[0].InterestPoint)}
	_, err = RedistributeGroupedResult(r, groupedA, groupedC)
	assert.Error(t, err)

	// both sides resolving to one view is inconsistent
	r = PairwiseResult{A: ga, B: ga, Inliers: []PointMatch{NewPointMatch(groupedA[0].InterestPoint, groupedA[0].InterestPoint)}}
	_, err = RedistributeGroupedResult(r, groupedA, groupedA)
	assert.Error(t, err)
}

func TestAddCorrespondences(t *testing.T) {
	a, b := view(0, 0), view(0, 1)
	la := &InterestPointList{Label: "beads"}
	lb := &InterestPointList{Label: "beads"}
	matches := []PointMatch{
		NewPointMatch(NewInterestPoint(2, 0, 0, 0), NewInterestPoint(7, 0, 0, 0)),
		NewPointMatch(NewInterestPoint(1, 0, 0, 0), NewInterestPoint(6, 0, 0, 0)),
	}

	assert.Equal(t, 2, AddCorrespondences(a, la, b, lb, matches))
	assert.Equal(t, 0, AddCorrespondences(a, la, b, lb, matches), "duplicates are skipped")

	require.Len(t, la.Correspondences, 2)
	assert.Equal(t, CorrespondingPoint{ID: 1, OtherView: b, OtherLabel: "beads", OtherID: 6}, la.Correspondences[0])
	assert.Equal(t, CorrespondingPoint{ID: 2, OtherView: b, OtherLabel: "beads", OtherID: 7}, la.Correspondences[1])
	require.Len(t, lb.Correspondences, 2)
	assert.Equal(t, CorrespondingPoint{ID: 6, OtherView: a, OtherLabel: "beads", OtherID: 1}, lb.Correspondences[0])

	assert.Equal(t, 0, la.RemoveCorrespondencesTo(b, "nuclei"))
	assert.Equal(t, 2, la.RemoveCorrespondencesTo(b, "beads"))
	assert.Empty(t, la.Correspondences)
	lb.ClearCorrespondences()
	assert.Nil(t, lb.Correspondences)
}

func TestViewRegistration(t *testing.T) {
	r := ViewRegistration{View: view(0, 0)}
	assert.Equal(t, Identity(), r.Model())

	r.PreConcatenate(ViewTransform{Name: "calibration", Transform: Scale(2, 2, 2)})
	r.PreConcatenate(ViewTransform{Name: TransformName(ModelRigid), Transform: Translation(1, 0, 0)})
	require.Len(t, r.Transforms, 2)
	assert.Equal(t, "Interest point registration (rigid)", r.Transforms[0].Name)

	// scaling is applied first, the translation last
	assertVecNear(t, vec(3, 2, 2), TransformPoint(vec(1, 1, 1), r.Model()), epsilon)

	c := r.Copy()
	latest, err := c.RemoveLatest()
	require.NoError(t, err)
	assert.Equal(t, TransformName(ModelRigid), latest.Name)
	require.Len(t, r.Transforms, 2, "copies share nothing")

	first, err := r.RemoveFirst()
	require.NoError(t, err)
	assert.Equal(t, "calibration", first.Name)
	assert.Equal(t, Translation(1, 0, 0), r.Model())

	_, err = r.RemoveFirst()
	require.NoError(t, err)
	_, err = r.RemoveLatest()
	assert.Error(t, err)
	_, err = r.RemoveFirst()
	assert.Error(t, err)
}
