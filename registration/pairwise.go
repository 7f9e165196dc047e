package registration

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PairwiseResult is the outcome of matching one pair of views or groups.
// It is not modified after ComputePairs returns it.
type PairwiseResult struct {
	A, B          Group
	Candidates    []PointMatch
	Inliers       []PointMatch
	Transform     AffineTransform
	Model         ModelType
	Error         float64 // mean inlier residual
	MaxError      float64
	MinError      float64
	NumCandidates int
	// Synthetic inliers are not interest points, e.g. the two centres of
	// center-of-mass matching. They feed the optimizer but are never stored.
	Synthetic     bool
	Err           error `json:"-"`
	Description   string
}

// OK reports whether the pair produced correspondences for global optimization.
func (r PairwiseResult) OK() bool {
	return r.Err == nil && len(r.Inliers) > 0
}

// InlierRatio is inliers / candidates, zero without candidates.
func (r PairwiseResult) InlierRatio() float64 {
	if r.NumCandidates == 0 {
		return 0
	}
	return float64(len(r.Inliers)) / float64(r.NumCandidates)
}

func (r *PairwiseResult) setFit(model Model, inliers []PointMatch) {
	r.Inliers = inliers
	r.Transform = model.Transform()
	r.Model = model.Type()
	if len(inliers) == 0 {
		return
	}
	residuals := make([]float64, len(inliers))
	for i, pm := range inliers {
		residuals[i] = MatchResidual(model, pm)
	}
	r.Error, r.MinError, r.MaxError = meanAndExtremes(residuals)
}

func (r *PairwiseResult) describe(method string) {
	if r.Err != nil {
		r.Description = fmt.Sprintf("%s <=> %s: %s failed: %v", r.A, r.B, method, r.Err)
		return
	}
	r.Description = fmt.Sprintf("%s <=> %s: %d/%d inliers (%.1f%%), avg error %.3f, max %.3f",
		r.A, r.B, len(r.Inliers), r.NumCandidates, 100*r.InlierRatio(), r.Error, r.MaxError)
}

// PairwiseMatching estimates correspondences and a transform mapping a onto b.
type PairwiseMatching interface {
	Name() string
	Match(a, b []InterestPoint, rng *rand.Rand) PairwiseResult
}

// PairTask is one unit of work for ComputePairs.
type PairTask struct {
	A, B    Group
	PointsA []InterestPoint
	PointsB []InterestPoint
}

// ComputePairs matches every task on a pool of workers. Each task works on
// its own copies of the points with its own random source derived from seed,
// so results only depend on the task order. Results are returned by task
// index; a non-nil error means the context was cancelled and the results are
// incomplete.
func ComputePairs(ctx context.Context, tasks []PairTask, method PairwiseMatching, workers int, seed int64) ([]PairwiseResult, error) {
	results := make([]PairwiseResult, len(tasks))
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a := append([]InterestPoint(nil), task.PointsA...)
			b := append([]InterestPoint(nil), task.PointsB...)
			rng := rand.New(rand.NewSource(seed + int64(i)))
			res := method.Match(a, b, rng)
			res.A, res.B = task.A, task.B
			res.describe(method.Name())
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// NewPairwiseMatching builds the configured matching method.
func NewPairwiseMatching(cfg MatchingConfig) PairwiseMatching {
	switch cfg.Method {
	case MethodICP:
		return ICPMatching{Config: cfg.ICP, Model: cfg.Model}
	case MethodCenterOfMass:
		return CenterOfMassMatching{UseMedian: cfg.CenterOfMassMedian}
	default:
		return DescriptorMatching{Params: cfg.Descriptor, Model: cfg.Model, Ransac: cfg.Ransac}
	}
}

func meanAndExtremes(values []float64) (mean, min, max float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	return stat.Mean(values, nil), floats.Min(values), floats.Max(values)
}
