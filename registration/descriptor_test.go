package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombinations(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}, Combinations(4, 3))
	assert.Equal(t, [][]int{{0}, {1}}, Combinations(2, 1))
	assert.Len(t, Combinations(5, 2), 10)
	assert.Nil(t, Combinations(3, 4))
}

func TestNewMatcher(t *testing.T) {
	m, err := NewMatcher(3, 0)
	require.NoError(t, err)
	assert.IsType(t, &SimpleMatcher{}, m)
	assert.Equal(t, 3, m.RequiredNeighbors())
	require.Len(t, m.Candidates(), 1)
	assert.Equal(t, []int{0, 1, 2}, m.Candidates()[0].A)

	m, err = NewMatcher(3, 1)
	require.NoError(t, err)
	assert.IsType(t, &SubsetMatcher{}, m)
	assert.Equal(t, 4, m.RequiredNeighbors())
	require.Len(t, m.Candidates(), 16)
	assert.Equal(t, Candidate{A: []int{0, 1, 2}, B: []int{0, 1, 2}}, m.Candidates()[0])
	assert.Equal(t, Candidate{A: []int{0, 1, 2}, B: []int{0, 1, 3}}, m.Candidates()[1])

	_, err = NewMatcher(0, 1)
	assert.Error(t, err)
	_, err = NewMatcher(3, -1)
	assert.Error(t, err)
	_, err = NewSubsetMatcher(5, 4)
	assert.Error(t, err)
}

func TestBuildDescriptors(t *testing.T) {
	points := jitteredGrid(3, 10, 2, 5)
	descs, err := BuildDescriptors(points, 4)
	require.NoError(t, err)
	require.Len(t, descs, len(points))

	for i, d := range descs {
		assert.Equal(t, points[i].ID, d.Basis.ID)
		require.Len(t, d.Neighbors, 4)
		for j, n := range d.Neighbors {
			assertVecNear(t, n.W.Sub(d.Basis.W), d.Relative[j], epsilon)
			assert.NotEqual(t, d.Basis.ID, n.ID)
		}
	}

	_, err = BuildDescriptors(points[:4], 4)
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = BuildDescriptors(points, 0)
	assert.Error(t, err)
}

func TestDescriptorDistanceOfItselfIsZero(t *testing.T) {
	points := jitteredGrid(3, 10, 3, 9)
	descs, err := BuildDescriptors(points, 4)
	require.NoError(t, err)

	for _, model := range []ModelType{ModelNone, ModelTranslation, ModelRigid, ModelAffine} {
		matcher, err := NewMatcher(3, 1)
		require.NoError(t, err)
		opts := DescriptorOptions{Matcher: matcher, Similarity: SquareDistance{}, Model: model}
		for _, d := range descs {
			dm, err := DescriptorDistance(d, d, opts)
			require.NoError(t, err)
			assert.Equal(t, 0.0, dm.Score, "model %s", model)
			assert.Equal(t, []int{0, 1, 2}, dm.Candidate.A)
			assert.Equal(t, []int{0, 1, 2}, dm.Candidate.B)
		}
	}
}

func TestNormalizationFactorFollowsRedundancy(t *testing.T) {
	matches := make([]PointMatch, 3)
	simple, err := NewMatcher(3, 0)
	require.NoError(t, err)
	subset, err := NewMatcher(3, 1)
	require.NoError(t, err)

	for _, m := range []Matcher{simple, subset} {
		assert.Equal(t, 1.0, m.NormalizationFactor(matches, nil), "no local fit")

		tests := []struct {
			model ModelType
			want  float64
		}{
			{ModelTranslation, 1.0 / 3},
			{ModelRigid, 1},
			{ModelAffine, 1},
		}
		for _, tt := range tests {
			fit, err := NewModel(tt.model)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, m.NormalizationFactor(matches, fit), 1e-12, "model %s", tt.model)
		}

		// more matches leave more redundancy to divide by
		fit, err := NewModel(ModelRigid)
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3, m.NormalizationFactor(make([]PointMatch, 5), fit), 1e-12)
	}
}

func TestDescriptorDistanceIsRigidInvariant(t *testing.T) {
	points := jitteredGrid(3, 10, 3, 13)
	moved := movedPoints(points, rigidMotion(0.7, -0.3, 1.9, 40, -20, 5))

	da, err := BuildDescriptors(points, 4)
	require.NoError(t, err)
	db, err := BuildDescriptors(moved, 4)
	require.NoError(t, err)

	matcher, err := NewMatcher(3, 1)
	require.NoError(t, err)
	rigid := DescriptorOptions{Matcher: matcher, Similarity: SquareDistance{}, Model: ModelRigid}
	none := DescriptorOptions{Matcher: matcher, Similarity: AbsoluteDistance{}, Model: ModelNone}

	for i := range da {
		dm, err := DescriptorDistance(da[i], db[i], rigid)
		require.NoError(t, err)
		assert.Less(t, dm.Score, 1e-9)

		// without a local fit the rotation shows up in the score
		raw, err := DescriptorDistance(da[i], db[i], none)
		require.NoError(t, err)
		assert.Greater(t, raw.Score, 1.0)
	}
}

func TestDescriptorDistanceNeedsEnoughNeighbors(t *testing.T) {
	points := jitteredGrid(2, 10, 1, 1)
	descs, err := BuildDescriptors(points, 3)
	require.NoError(t, err)
	matcher, err := NewMatcher(3, 1)
	require.NoError(t, err)

	_, err = DescriptorDistance(descs[0], descs[1], DescriptorOptions{Matcher: matcher, Model: ModelRigid})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestSimilarityByName(t *testing.T) {
	assert.Equal(t, "absolute", SimilarityByName("absolute").Name())
	assert.Equal(t, "square", SimilarityByName("square").Name())
	assert.Equal(t, "square", SimilarityByName("unknown").Name())

	matches := []PointMatch{NewPointMatch(NewInterestPoint(0, 0, 0, 0), NewInterestPoint(1, 3, 4, 0))}
	assert.InDelta(t, 25.0, SquareDistance{}.Score(matches, nil), epsilon)
	assert.InDelta(t, 5.0, AbsoluteDistance{}.Score(matches, nil), epsilon)

	fit := MustNewModel(ModelTranslation)
	fit.Set(Translation(3, 4, 0))
	assert.InDelta(t, 0.0, SquareDistance{}.Score(matches, fit), epsilon)
}
