package registration

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

const epsilon = 1e-9

// jitteredGrid returns n*n*n beads on a grid with the given spacing, each
// displaced by up to jitter along every axis. Ids are sequential.
func jitteredGrid(n int, spacing, jitter float64, seed int64) []InterestPoint {
	rng := rand.New(rand.NewSource(seed))
	var out []InterestPoint
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				out = append(out, NewInterestPoint(int64(len(out)),
					float64(x)*spacing+(rng.Float64()*2-1)*jitter,
					float64(y)*spacing+(rng.Float64()*2-1)*jitter,
					float64(z)*spacing+(rng.Float64()*2-1)*jitter))
			}
		}
	}
	return out
}

// movedPoints returns copies of points whose local and world coordinates are
// both t applied to the original world coordinate.
func movedPoints(points []InterestPoint, t AffineTransform) []InterestPoint {
	out := make([]InterestPoint, len(points))
	for i, p := range points {
		q := TransformPoint(p.W, t)
		out[i] = InterestPoint{ID: p.ID, L: q, W: q, Weight: p.Weight}
	}
	return out
}

func vec(x, y, z float64) r3.Vector { return r3.Vector{X: x, Y: y, Z: z} }

func assertVecNear(t *testing.T, want, got r3.Vector, eps float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, eps, msgAndArgs...)
	assert.InDelta(t, want.Z, got.Z, eps, msgAndArgs...)
}

func assertTransformNear(t *testing.T, want, got AffineTransform, eps float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, want.ApproxEqual(got, eps), "max difference %g\nwant %+v\ngot  %+v %v",
		want.MaxAbsDiff(got), want, got, msgAndArgs)
}

// rigidMotion is a rotation about all three axes followed by a translation.
func rigidMotion(ax, ay, az, tx, ty, tz float64) AffineTransform {
	r := MultiplyMatrices(RotationZ(az), MultiplyMatrices(RotationY(ay), RotationX(ax)))
	return MultiplyMatrices(Translation(tx, ty, tz), r)
}

func view(tp, setup int) ViewID { return ViewID{Timepoint: tp, Setup: setup} }
