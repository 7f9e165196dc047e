package registration

import (
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// CenterOfMassMatching aligns the centres of two point sets with a
// translation. The correspondence it reports is a single synthetic match
// between the two centres, weighted by the smaller set size. It only
// supports the translation model.
type CenterOfMassMatching struct {
	UseMedian bool
}

func (m CenterOfMassMatching) Name() string {
	if m.UseMedian {
		return "center-of-mass (median)"
	}
	return "center-of-mass (mean)"
}

func (m CenterOfMassMatching) Match(a, b []InterestPoint, _ *rand.Rand) PairwiseResult {
	result := PairwiseResult{Model: ModelTranslation, Synthetic: true}
	if len(a) == 0 || len(b) == 0 {
		result.Err = errors.Wrapf(ErrNotEnoughDataPoints, "center of mass of %d and %d points", len(a), len(b))
		return result
	}
	ca, cb := m.center(a), m.center(b)

	weight := float64(len(a))
	if len(b) < len(a) {
		weight = float64(len(b))
	}
	pm := PointMatch{
		P1:     InterestPoint{ID: -1, L: ca, W: ca, Weight: 1},
		P2:     InterestPoint{ID: -1, L: cb, W: cb, Weight: 1},
		Weight: weight,
	}
	model := MustNewModel(ModelTranslation)
	if err := FitMatches(model, []PointMatch{pm}); err != nil {
		result.Err = err
		return result
	}
	result.Candidates = []PointMatch{pm}
	result.NumCandidates = 1
	result.setFit(model, []PointMatch{pm})
	return result
}

func (m CenterOfMassMatching) center(points []InterestPoint) r3.Vector {
	if !m.UseMedian {
		var sum r3.Vector
		for _, p := range points {
			sum = sum.Add(p.W)
		}
		return sum.Mul(1 / float64(len(points)))
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.W.X, p.W.Y, p.W.Z
	}
	return r3.Vector{X: median(xs), Y: median(ys), Z: median(zs)}
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
