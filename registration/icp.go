package registration

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// ICPConfig holds configuration for iterative closest point matching.
// Distances are in world units.
type ICPConfig struct {
	MaxIterations     int     `yaml:"maxIterations" json:"maxIterations"`
	ConvergenceThresh float64 `yaml:"convergenceThresh" json:"convergenceThresh"` // stop when error improvement is below this
	MaxCorrespondDist float64 `yaml:"maxCorrespondDist" json:"maxCorrespondDist"` // maximum distance for point correspondence
	OutlierPercentile float64 `yaml:"outlierPercentile" json:"outlierPercentile"` // keep correspondences up to this percentile (0-1)
}

// DefaultICPConfig returns sensible defaults for ICP.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     100,
		ConvergenceThresh: 0.001,
		MaxCorrespondDist: 5.0,
		OutlierPercentile: 1.0,
	}
}

// ICPMatching refines the current world alignment of two point sets by
// alternating closest-point correspondence and model fitting. It assumes the
// sets are already roughly aligned.
type ICPMatching struct {
	Config ICPConfig
	Model  ModelType
}

func (m ICPMatching) Name() string { return "icp" }

func (m ICPMatching) Match(a, b []InterestPoint, _ *rand.Rand) PairwiseResult {
	result := PairwiseResult{Model: m.Model}
	model := MustNewModel(m.Model)
	if len(a) < model.MinNumMatches() || len(b) < model.MinNumMatches() {
		result.Err = errors.Wrapf(ErrNotEnoughDataPoints, "icp on %d and %d points, %s model needs %d",
			len(a), len(b), model.Type(), model.MinNumMatches())
		return result
	}

	target := newNeighborIndex(b)
	prevError := math.MaxFloat64
	for iter := 0; iter < m.Config.MaxIterations; iter++ {
		corr, dists := icpCorrespondences(model, a, b, target, m.Config.MaxCorrespondDist)
		corr = rejectOutliers(corr, dists, m.Config.OutlierPercentile)
		if len(corr) < model.MinNumMatches() {
			break
		}

		next := model.Copy()
		if err := FitMatches(next, corr); err != nil {
			break
		}
		newError := meanResidual(next, corr)

		// divergence: keep the last good estimate
		if newError > prevError*1.5 {
			break
		}
		model = next
		improvement := prevError - newError
		prevError = newError
		if improvement >= 0 && improvement < m.Config.ConvergenceThresh {
			break
		}
	}

	inliers, _ := icpCorrespondences(model, a, b, target, m.Config.MaxCorrespondDist)
	result.Candidates = inliers
	result.NumCandidates = len(inliers)
	if len(inliers) < model.MinNumMatches() {
		result.Err = errors.Wrapf(ErrNotEnoughDataPoints, "icp found %d correspondences within %.3f",
			len(inliers), m.Config.MaxCorrespondDist)
		return result
	}
	result.setFit(model, inliers)
	return result
}

// icpCorrespondences pairs every point of a, mapped through model, with its
// closest point of b within maxDist.
func icpCorrespondences(model Model, a, b []InterestPoint, target *neighborIndex, maxDist float64) ([]PointMatch, []float64) {
	var corr []PointMatch
	var dists []float64
	for _, p := range a {
		j, d, ok := target.nearestTo(model.Apply(p.W))
		if !ok || d > maxDist {
			continue
		}
		corr = append(corr, NewPointMatch(p, b[j]))
		dists = append(dists, d)
	}
	return corr, dists
}

// rejectOutliers keeps correspondences whose distance is at most the given
// percentile of all distances.
func rejectOutliers(corr []PointMatch, distances []float64, percentile float64) []PointMatch {
	if len(distances) == 0 || percentile >= 1.0 {
		return corr
	}
	sorted := append([]float64(nil), distances...)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	threshold := sorted[idx]

	var filtered []PointMatch
	for i, d := range distances {
		if d <= threshold {
			filtered = append(filtered, corr[i])
		}
	}
	return filtered
}

func meanResidual(model Model, matches []PointMatch) float64 {
	if len(matches) == 0 {
		return math.MaxFloat64
	}
	sum := 0.0
	for _, pm := range matches {
		sum += MatchResidual(model, pm)
	}
	return sum / float64(len(matches))
}
