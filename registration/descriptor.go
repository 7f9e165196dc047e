package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ModelNone compares descriptors without fitting a local model, which makes
// the comparison translation invariant only.
const ModelNone ModelType = "none"

// Descriptor is the local geometric signature of a basis point: its k nearest
// neighbours, in order, and their offsets from the basis.
type Descriptor struct {
	Basis     InterestPoint
	Neighbors []InterestPoint
	Relative  []r3.Vector
}

// BuildDescriptors creates one descriptor per point from its k nearest
// neighbours in world coordinates.
func BuildDescriptors(points []InterestPoint, k int) ([]Descriptor, error) {
	if k < 1 {
		return nil, errors.Errorf("descriptor needs at least one neighbour, got k=%d", k)
	}
	if len(points) < k+1 {
		return nil, errors.Wrapf(ErrInsufficientData, "%d points, descriptors need %d", len(points), k+1)
	}
	index := newNeighborIndex(points)
	out := make([]Descriptor, len(points))
	for i, basis := range points {
		nn, err := index.nearest(i, k)
		if err != nil {
			return nil, err
		}
		d := Descriptor{
			Basis:     basis,
			Neighbors: make([]InterestPoint, k),
			Relative:  make([]r3.Vector, k),
		}
		for j, idx := range nn {
			d.Neighbors[j] = points[idx]
			d.Relative[j] = points[idx].W.Sub(basis.W)
		}
		out[i] = d
	}
	return out, nil
}

// DescriptorOptions selects how two descriptors are compared.
type DescriptorOptions struct {
	Matcher    Matcher
	Similarity SimilarityMeasure
	// Model is fitted per candidate; ModelNone skips the fit.
	Model ModelType
}

// DescriptorMatch is the best candidate found by DescriptorDistance.
type DescriptorMatch struct {
	Score     float64
	Candidate Candidate
}

// DescriptorDistance compares a against b over every candidate the matcher
// proposes and returns the lowest score. Candidates whose local fit is
// degenerate are skipped; if all of them are, the last fit error is returned.
// Equal scores keep the earlier candidate.
func DescriptorDistance(a, b Descriptor, opts DescriptorOptions) (DescriptorMatch, error) {
	need := opts.Matcher.RequiredNeighbors()
	if len(a.Relative) < need || len(b.Relative) < need {
		return DescriptorMatch{}, errors.Wrapf(ErrInsufficientData,
			"descriptors carry %d and %d neighbours, matcher needs %d", len(a.Relative), len(b.Relative), need)
	}
	similarity := opts.Similarity
	if similarity == nil {
		similarity = SquareDistance{}
	}

	var fit Model
	if opts.Model != ModelNone && opts.Model != "" {
		m, err := NewModel(opts.Model)
		if err != nil {
			return DescriptorMatch{}, err
		}
		fit = m
	}

	best := DescriptorMatch{Score: math.Inf(1)}
	found := false
	var lastErr error
	for _, cand := range opts.Matcher.Candidates() {
		matches := make([]PointMatch, len(cand.A))
		identical := true
		for i := range cand.A {
			ra, rb := a.Relative[cand.A[i]], b.Relative[cand.B[i]]
			matches[i] = PointMatch{P1: InterestPoint{W: ra}, P2: InterestPoint{W: rb}, Weight: 1}
			if ra != rb {
				identical = false
			}
		}

		var score float64
		switch {
		case identical:
			// identity is the exact optimum for every model class
			score = 0
		case fit == nil:
			score = similarity.Score(matches, nil) * opts.Matcher.NormalizationFactor(matches, nil)
		default:
			src := make([]r3.Vector, 0, len(matches)+1)
			dst := make([]r3.Vector, 0, len(matches)+1)
			src = append(src, r3.Vector{})
			dst = append(dst, r3.Vector{})
			for _, pm := range matches {
				src = append(src, pm.P1.W)
				dst = append(dst, pm.P2.W)
			}
			if err := fit.Fit(src, dst, nil); err != nil {
				lastErr = err
				continue
			}
			score = similarity.Score(matches, fit) * opts.Matcher.NormalizationFactor(matches, fit)
		}

		if !found || score < best.Score {
			best = DescriptorMatch{Score: score, Candidate: cand}
			found = true
		}
		if score == 0 {
			break
		}
	}
	if !found {
		if lastErr == nil {
			lastErr = errors.Wrap(ErrInsufficientData, "matcher proposed no candidates")
		}
		return DescriptorMatch{}, lastErr
	}
	return best, nil
}
