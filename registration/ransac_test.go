package registration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticCandidates returns the true correspondences of points under
// truth followed by outliers whose targets are pushed at least 50 away.
func syntheticCandidates(points []InterestPoint, truth AffineTransform, outliers int, seed int64) []PointMatch {
	rng := rand.New(rand.NewSource(seed))
	moved := movedPoints(points, truth)
	var out []PointMatch
	for i := range points {
		out = append(out, NewPointMatch(points[i], moved[i]))
	}
	for i := 0; i < outliers; i++ {
		src := points[rng.Intn(len(points))]
		dst := TransformPoint(src.W, truth).Add(vec(50+rng.Float64()*50, -50-rng.Float64()*50, 60))
		out = append(out, NewPointMatch(src, InterestPoint{ID: int64(1000 + i), L: dst, W: dst, Weight: 1}))
	}
	return out
}

func TestRansacSeparatesOutliers(t *testing.T) {
	points := jitteredGrid(4, 15, 4, 17)
	truth := MultiplyMatrices(rigidMotion(0.3, 0.1, -0.6, 10, 20, -5),
		AffineTransform{M00: 1.1, M01: 0.05, M11: 0.95, M22: 1.2, M12: 0.1})
	candidates := syntheticCandidates(points, truth, 20, 3)

	model, inliers, err := Ransac(MustNewModel(ModelAffine), candidates, DefaultRansacParams(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, inliers, len(points))
	for _, pm := range inliers {
		assert.Less(t, pm.P2.ID, int64(1000))
	}
	assertTransformNear(t, truth, model.Transform(), 1e-6)
}

func TestRansacIsDeterministicForASeed(t *testing.T) {
	points := jitteredGrid(3, 15, 4, 2)
	candidates := syntheticCandidates(points, rigidMotion(0.1, 0.2, 0.3, 1, 2, 3), 15, 8)

	m1, in1, err := Ransac(MustNewModel(ModelRigid), candidates, DefaultRansacParams(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	m2, in2, err := Ransac(MustNewModel(ModelRigid), candidates, DefaultRansacParams(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, m1.Transform(), m2.Transform())
	assert.Equal(t, in1, in2)
}

func TestRansacFailures(t *testing.T) {
	points := jitteredGrid(2, 15, 4, 4)
	candidates := syntheticCandidates(points, Identity(), 0, 1)
	rng := rand.New(rand.NewSource(1))

	_, _, err := Ransac(MustNewModel(ModelAffine), candidates[:3], DefaultRansacParams(), rng)
	assert.ErrorIs(t, err, ErrNotEnoughDataPoints)

	// 8 candidates cannot reach ceil(3*4) = 12 inliers
	_, _, err = Ransac(MustNewModel(ModelAffine), candidates, DefaultRansacParams(), rng)
	assert.ErrorIs(t, err, ErrRansacFailed)

	// pure noise never reaches consensus
	noise := make([]PointMatch, 0, 40)
	for i := 0; i < 40; i++ {
		a := NewInterestPoint(int64(i), rng.Float64()*100, rng.Float64()*100, rng.Float64()*100)
		b := NewInterestPoint(int64(i), rng.Float64()*1000, rng.Float64()*1000, rng.Float64()*1000)
		noise = append(noise, NewPointMatch(a, b))
	}
	p := DefaultRansacParams()
	p.MaxIterations = 200
	p.MaxEpsilon = 0.5
	_, _, err = Ransac(MustNewModel(ModelTranslation), noise, p, rng)
	assert.ErrorIs(t, err, ErrRansacFailed)
	assert.True(t, IsRecoverable(err))
}

func TestMinConsensus(t *testing.T) {
	p := DefaultRansacParams()
	assert.Equal(t, 9, p.MinConsensus(MustNewModel(ModelRigid), 20))
	assert.Equal(t, 30, p.MinConsensus(MustNewModel(ModelRigid), 300))
	p.MinNumInliers = 50
	assert.Equal(t, 50, p.MinConsensus(MustNewModel(ModelRigid), 20))
	p = RansacParams{}
	assert.Equal(t, 1, p.MinConsensus(MustNewModel(ModelTranslation), 10))
}
