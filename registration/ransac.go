package registration

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// RansacParams controls the random sample consensus filter.
type RansacParams struct {
	MaxIterations      int     `yaml:"maxIterations" json:"maxIterations"`
	MaxEpsilon         float64 `yaml:"maxEpsilon" json:"maxEpsilon"`
	MinInlierRatio     float64 `yaml:"minInlierRatio" json:"minInlierRatio"`
	MinInlierFactor    float64 `yaml:"minInlierFactor" json:"minInlierFactor"`
	MinNumInliers      int     `yaml:"minNumInliers" json:"minNumInliers"`
	SuccessProbability float64 `yaml:"successProbability" json:"successProbability"`
	RefineIterations   int     `yaml:"refineIterations" json:"refineIterations"`
}

// DefaultRansacParams returns the parameters used when nothing is configured.
func DefaultRansacParams() RansacParams {
	return RansacParams{
		MaxIterations:      10000,
		MaxEpsilon:         5.0,
		MinInlierRatio:     0.1,
		MinInlierFactor:    3.0,
		SuccessProbability: 0.99,
		RefineIterations:   10,
	}
}

// MinConsensus is the number of inliers a model needs before it is accepted
// for n candidates.
func (p RansacParams) MinConsensus(model Model, n int) int {
	need := model.MinNumMatches()
	if f := int(math.Ceil(p.MinInlierFactor * float64(model.MinNumMatches()))); f > need {
		need = f
	}
	if p.MinNumInliers > need {
		need = p.MinNumInliers
	}
	if r := int(math.Ceil(p.MinInlierRatio * float64(n))); r > need {
		need = r
	}
	return need
}

// Ransac separates candidates into inliers and outliers of the best consensus
// model. The returned model is refitted to the final inlier set. rng must not
// be shared with other goroutines.
func Ransac(model Model, candidates []PointMatch, p RansacParams, rng *rand.Rand) (Model, []PointMatch, error) {
	n := len(candidates)
	minMatches := model.MinNumMatches()
	if n < minMatches {
		return nil, nil, errors.Wrapf(ErrNotEnoughDataPoints, "%d candidates, %s model needs %d", n, model.Type(), minMatches)
	}
	required := p.MinConsensus(model, n)
	if n < required {
		return nil, nil, errors.Wrapf(ErrRansacFailed, "%d candidates cannot reach the required %d inliers", n, required)
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sample := make([]PointMatch, minMatches)

	var bestModel Model
	var bestInliers []int
	maxIterations := p.MaxIterations
	for it := 0; it < maxIterations; it++ {
		// partial Fisher-Yates draws minMatches distinct candidates
		for j := 0; j < minMatches; j++ {
			r := j + rng.Intn(n-j)
			perm[j], perm[r] = perm[r], perm[j]
			sample[j] = candidates[perm[j]]
		}
		m := model.Copy()
		if err := FitMatches(m, sample); err != nil {
			continue
		}
		inliers := partition(m, candidates, p.MaxEpsilon)
		if len(inliers) <= len(bestInliers) {
			continue
		}
		bestModel, bestInliers = m, inliers

		w := float64(len(inliers)) / float64(n)
		if w >= 1 {
			break
		}
		if p.SuccessProbability > 0 && p.SuccessProbability < 1 {
			needed := math.Log(1-p.SuccessProbability) / math.Log(1-math.Pow(w, float64(minMatches)))
			if !math.IsNaN(needed) && !math.IsInf(needed, 0) && int(math.Ceil(needed)) < maxIterations {
				maxIterations = int(math.Ceil(needed))
			}
		}
	}

	if bestModel == nil || len(bestInliers) < required {
		got := len(bestInliers)
		return nil, nil, errors.Wrapf(ErrRansacFailed, "best consensus %d of %d candidates, need %d", got, n, required)
	}

	// least-squares refit on all inliers until the partition stops changing
	for it := 0; it < p.RefineIterations; it++ {
		m := model.Copy()
		if err := FitMatches(m, pick(candidates, bestInliers)); err != nil {
			break
		}
		next := partition(m, candidates, p.MaxEpsilon)
		if len(next) < required {
			break
		}
		same := equalIndices(next, bestInliers)
		bestModel, bestInliers = m, next
		if same {
			break
		}
	}

	final := model.Copy()
	inliers := pick(candidates, bestInliers)
	if err := FitMatches(final, inliers); err != nil {
		final = bestModel
	}
	return final, inliers, nil
}

func partition(m Model, candidates []PointMatch, maxEpsilon float64) []int {
	var in []int
	for i, pm := range candidates {
		if MatchResidual(m, pm) < maxEpsilon {
			in = append(in, i)
		}
	}
	return in
}

func pick(candidates []PointMatch, idx []int) []PointMatch {
	out := make([]PointMatch, len(idx))
	for i, j := range idx {
		out[i] = candidates[j]
	}
	return out
}

func equalIndices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
