package registration

import (
	"math"

	"github.com/pkg/errors"
)

// Candidate is one proposed assignment of descriptor neighbours: neighbour
// A[i] of the first descriptor corresponds to neighbour B[i] of the second.
type Candidate struct {
	A []int
	B []int
}

// Matcher proposes neighbour correspondences between two descriptors.
// Candidates must be returned in the same order on every call.
type Matcher interface {
	// RequiredNeighbors is the number of neighbours a descriptor must carry.
	RequiredNeighbors() int
	Candidates() []Candidate
	NormalizationFactor(matches []PointMatch, fit Model) float64
}

// SimpleMatcher pairs neighbours in the order they were found.
type SimpleMatcher struct {
	NumNeighbors int
	candidates   []Candidate
}

// NewSimpleMatcher creates a matcher that compares the first n neighbours in order.
func NewSimpleMatcher(n int) *SimpleMatcher {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return &SimpleMatcher{NumNeighbors: n, candidates: []Candidate{{A: idx, B: idx}}}
}

func (m *SimpleMatcher) RequiredNeighbors() int  { return m.NumNeighbors }
func (m *SimpleMatcher) Candidates() []Candidate { return m.candidates }

func (m *SimpleMatcher) NormalizationFactor(matches []PointMatch, fit Model) float64 {
	return redundancyFactor(matches, fit)
}

// SubsetMatcher tries every SubsetSize-combination of the first descriptor's
// neighbours against every SubsetSize-combination of the second's, so that a
// missing or spurious neighbour in either view does not spoil the comparison.
type SubsetMatcher struct {
	SubsetSize   int
	NumNeighbors int
	candidates   []Candidate
}

// NewSubsetMatcher enumerates the candidates once, lexicographically.
func NewSubsetMatcher(subsetSize, numNeighbors int) (*SubsetMatcher, error) {
	if subsetSize < 1 || subsetSize > numNeighbors {
		return nil, errors.Errorf("subset size %d must be in [1,%d]", subsetSize, numNeighbors)
	}
	combos := Combinations(numNeighbors, subsetSize)
	cands := make([]Candidate, 0, len(combos)*len(combos))
	for _, a := range combos {
		for _, b := range combos {
			cands = append(cands, Candidate{A: a, B: b})
		}
	}
	return &SubsetMatcher{SubsetSize: subsetSize, NumNeighbors: numNeighbors, candidates: cands}, nil
}

func (m *SubsetMatcher) RequiredNeighbors() int  { return m.NumNeighbors }
func (m *SubsetMatcher) Candidates() []Candidate { return m.candidates }

func (m *SubsetMatcher) NormalizationFactor(matches []PointMatch, fit Model) float64 {
	return redundancyFactor(matches, fit)
}

// redundancyFactor divides a fitted score by the number of matches beyond
// what the model needs, the descriptor centre included. A fit that uses
// every match leaves a residual of zero and is not scaled.
func redundancyFactor(matches []PointMatch, fit Model) float64 {
	if fit == nil {
		return 1
	}
	return 1 / math.Max(1, float64(len(matches)+1-fit.MinNumMatches()))
}

// Combinations returns all k-element subsets of {0..n-1} in lexicographic order.
func Combinations(n, k int) [][]int {
	if k < 0 || k > n {
		return nil
	}
	var out [][]int
	cur := make([]int, k)
	var rec func(start, depth int)
	rec = func(start, depth int) {
		if depth == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i <= n-(k-depth); i++ {
			cur[depth] = i
			rec(i+1, depth+1)
		}
	}
	rec(0, 0)
	return out
}

// NewMatcher builds the matcher used by descriptor matching: a simple matcher
// when redundancy is zero, otherwise a subset matcher over
// numNeighbors+redundancy neighbours.
func NewMatcher(numNeighbors, redundancy int) (Matcher, error) {
	if numNeighbors < 1 {
		return nil, errors.Errorf("number of neighbours must be positive, got %d", numNeighbors)
	}
	if redundancy < 0 {
		return nil, errors.Errorf("redundancy must not be negative, got %d", redundancy)
	}
	if redundancy == 0 {
		return NewSimpleMatcher(numNeighbors), nil
	}
	m, err := NewSubsetMatcher(numNeighbors, numNeighbors+redundancy)
	if err != nil {
		return nil, err
	}
	return m, nil
}
