package registration

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// DescriptorParams configures redundant geometric local descriptor matching.
type DescriptorParams struct {
	NumNeighbors    int       `yaml:"numNeighbors" json:"numNeighbors"`
	Redundancy      int       `yaml:"redundancy" json:"redundancy"`
	RatioOfDistance float64   `yaml:"ratioOfDistance" json:"ratioOfDistance"`
	Model           ModelType `yaml:"model" json:"model"`
	Similarity      string    `yaml:"similarity" json:"similarity"`
}

// DefaultDescriptorParams compares three neighbours out of four with a rigid
// local fit.
func DefaultDescriptorParams() DescriptorParams {
	return DescriptorParams{
		NumNeighbors:    3,
		Redundancy:      1,
		RatioOfDistance: 3.0,
		Model:           ModelRigid,
		Similarity:      "square",
	}
}

// DescriptorMatching finds correspondence candidates by comparing local
// descriptors and filters them with RANSAC.
type DescriptorMatching struct {
	Params DescriptorParams
	Model  ModelType
	Ransac RansacParams
}

func (m DescriptorMatching) Name() string { return "descriptor" }

func (m DescriptorMatching) Match(a, b []InterestPoint, rng *rand.Rand) PairwiseResult {
	result := PairwiseResult{Model: m.Model}

	candidates, err := m.Candidates(a, b)
	if err != nil {
		result.Err = err
		return result
	}
	result.Candidates = candidates
	result.NumCandidates = len(candidates)

	model, inliers, err := Ransac(MustNewModel(m.Model), candidates, m.Ransac, rng)
	if err != nil {
		result.Err = err
		return result
	}
	result.setFit(model, inliers)
	return result
}

// Candidates returns one match per point of a whose best descriptor match in b
// passes the ratio test. Points of b claimed by more than one point of a are
// dropped.
func (m DescriptorMatching) Candidates(a, b []InterestPoint) ([]PointMatch, error) {
	matcher, err := NewMatcher(m.Params.NumNeighbors, m.Params.Redundancy)
	if err != nil {
		return nil, err
	}
	k := matcher.RequiredNeighbors()
	descA, err := BuildDescriptors(a, k)
	if err != nil {
		return nil, errors.Wrap(err, "descriptors of first set")
	}
	descB, err := BuildDescriptors(b, k)
	if err != nil {
		return nil, errors.Wrap(err, "descriptors of second set")
	}
	opts := DescriptorOptions{
		Matcher:    matcher,
		Similarity: SimilarityByName(m.Params.Similarity),
		Model:      m.Params.Model,
	}

	var candidates []PointMatch
	claims := make(map[int64]int)
	for _, da := range descA {
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for j, db := range descB {
			dm, err := DescriptorDistance(da, db, opts)
			if err != nil {
				continue
			}
			switch {
			case dm.Score < best:
				second = best
				best = dm.Score
				bestIdx = j
			case dm.Score < second:
				second = dm.Score
			}
		}
		if bestIdx < 0 || !(best*m.Params.RatioOfDistance < second) {
			continue
		}
		pb := descB[bestIdx].Basis
		candidates = append(candidates, NewPointMatch(da.Basis, pb))
		claims[pb.ID]++
	}

	unique := candidates[:0]
	for _, pm := range candidates {
		if claims[pm.P2.ID] == 1 {
			unique = append(unique, pm)
		}
	}
	return unique, nil
}
