package registration

import "github.com/golang/geo/r3"

// SimilarityMeasure scores how well a fitted local model explains a set of
// neighbour correspondences. Lower is more similar.
type SimilarityMeasure interface {
	Name() string
	Score(matches []PointMatch, fit Model) float64
}

// SquareDistance sums squared residuals.
type SquareDistance struct{}

func (SquareDistance) Name() string { return "square" }

func (SquareDistance) Score(matches []PointMatch, fit Model) float64 {
	sum := 0.0
	for _, pm := range matches {
		sum += residualVector(pm, fit).Norm2()
	}
	return sum
}

// AbsoluteDistance sums residual lengths.
type AbsoluteDistance struct{}

func (AbsoluteDistance) Name() string { return "absolute" }

func (AbsoluteDistance) Score(matches []PointMatch, fit Model) float64 {
	sum := 0.0
	for _, pm := range matches {
		sum += residualVector(pm, fit).Norm()
	}
	return sum
}

// SimilarityByName maps a configuration value to a measure; unknown names
// fall back to SquareDistance.
func SimilarityByName(name string) SimilarityMeasure {
	if name == (AbsoluteDistance{}).Name() {
		return AbsoluteDistance{}
	}
	return SquareDistance{}
}

// a nil fit compares the coordinates as they are
func residualVector(pm PointMatch, fit Model) r3.Vector {
	if fit == nil {
		return pm.P2.W.Sub(pm.P1.W)
	}
	return pm.P2.W.Sub(fit.Apply(pm.P1.W))
}
