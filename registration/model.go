package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ModelType selects the class of transform that is fitted to correspondences.
type ModelType string

const (
	ModelTranslation ModelType = "translation"
	ModelRigid       ModelType = "rigid"
	ModelSimilarity  ModelType = "similarity"
	ModelAffine      ModelType = "affine"
)

// Valid reports whether t names a known model class.
func (t ModelType) Valid() bool {
	switch t {
	case ModelTranslation, ModelRigid, ModelSimilarity, ModelAffine:
		return true
	}
	return false
}

// Model is a transform that can be estimated from point correspondences.
type Model interface {
	Type() ModelType
	// MinNumMatches is the number of correspondences a fit needs.
	MinNumMatches() int
	// Fit estimates the transform mapping src onto dst in the weighted
	// least-squares sense. weights may be nil.
	Fit(src, dst []r3.Vector, weights []float64) error
	Apply(p r3.Vector) r3.Vector
	Transform() AffineTransform
	Set(t AffineTransform)
	Copy() Model
}

// NewModel returns an identity model of the given class.
func NewModel(t ModelType) (Model, error) {
	switch t {
	case ModelTranslation:
		return &TranslationModel{affineState{Identity()}}, nil
	case ModelRigid:
		return &RigidModel{affineState{Identity()}}, nil
	case ModelSimilarity:
		return &SimilarityModel{affineState{Identity()}}, nil
	case ModelAffine:
		return &AffineModel{affineState{Identity()}}, nil
	}
	return nil, errors.Errorf("unknown model type %q", t)
}

// MustNewModel is NewModel for model types that have already been validated.
func MustNewModel(t ModelType) Model {
	m, err := NewModel(t)
	if err != nil {
		panic(err)
	}
	return m
}

type affineState struct {
	t AffineTransform
}

func (s *affineState) Apply(p r3.Vector) r3.Vector { return TransformPoint(p, s.t) }
func (s *affineState) Transform() AffineTransform  { return s.t }
func (s *affineState) Set(t AffineTransform)       { s.t = t }

// TranslationModel estimates a pure translation.
type TranslationModel struct{ affineState }

func (m *TranslationModel) Type() ModelType    { return ModelTranslation }
func (m *TranslationModel) MinNumMatches() int { return 1 }
func (m *TranslationModel) Copy() Model        { return &TranslationModel{m.affineState} }

func (m *TranslationModel) Fit(src, dst []r3.Vector, weights []float64) error {
	if err := checkFitInput(src, dst, weights, m.MinNumMatches()); err != nil {
		return err
	}
	cs, cd, _, err := weightedCentroids(src, dst, weights)
	if err != nil {
		return err
	}
	d := cd.Sub(cs)
	m.t = Translation(d.X, d.Y, d.Z)
	return nil
}

// RigidModel estimates rotation and translation (weighted Kabsch).
type RigidModel struct{ affineState }

func (m *RigidModel) Type() ModelType    { return ModelRigid }
func (m *RigidModel) MinNumMatches() int { return 3 }
func (m *RigidModel) Copy() Model        { return &RigidModel{m.affineState} }

func (m *RigidModel) Fit(src, dst []r3.Vector, weights []float64) error {
	if err := checkFitInput(src, dst, weights, m.MinNumMatches()); err != nil {
		return err
	}
	r, _, cs, cd, err := procrustes(src, dst, weights, false)
	if err != nil {
		return err
	}
	m.t = rotationAbout(r, 1, cs, cd)
	return nil
}

// SimilarityModel estimates rotation, isotropic scale and translation (Umeyama).
type SimilarityModel struct{ affineState }

func (m *SimilarityModel) Type() ModelType    { return ModelSimilarity }
func (m *SimilarityModel) MinNumMatches() int { return 3 }
func (m *SimilarityModel) Copy() Model        { return &SimilarityModel{m.affineState} }

func (m *SimilarityModel) Fit(src, dst []r3.Vector, weights []float64) error {
	if err := checkFitInput(src, dst, weights, m.MinNumMatches()); err != nil {
		return err
	}
	r, scale, cs, cd, err := procrustes(src, dst, weights, true)
	if err != nil {
		return err
	}
	m.t = rotationAbout(r, scale, cs, cd)
	return nil
}

// AffineModel estimates a full 3D affine transform by weighted least squares.
type AffineModel struct{ affineState }

func (m *AffineModel) Type() ModelType    { return ModelAffine }
func (m *AffineModel) MinNumMatches() int { return 4 }
func (m *AffineModel) Copy() Model        { return &AffineModel{m.affineState} }

func (m *AffineModel) Fit(src, dst []r3.Vector, weights []float64) error {
	if err := checkFitInput(src, dst, weights, m.MinNumMatches()); err != nil {
		return err
	}
	cs, cd, _, err := weightedCentroids(src, dst, weights)
	if err != nil {
		return err
	}

	// A = Q * P^-1 with P = sum w s~ s~^T and Q = sum w d~ s~^T
	p := mat.NewDense(3, 3, nil)
	q := mat.NewDense(3, 3, nil)
	for i := range src {
		w := weightAt(weights, i)
		s := vecSlice(src[i].Sub(cs))
		d := vecSlice(dst[i].Sub(cd))
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				p.Set(r, c, p.At(r, c)+w*s[r]*s[c])
				q.Set(r, c, q.At(r, c)+w*d[r]*s[c])
			}
		}
	}
	if cond := mat.Cond(p, 2); math.IsInf(cond, 1) || cond > 1e12 {
		return errors.Wrapf(ErrIllDefinedModel, "affine fit on coplanar or collinear points (cond=%g)", cond)
	}
	var pInv mat.Dense
	if err := pInv.Inverse(p); err != nil {
		return errors.Wrap(ErrIllDefinedModel, err.Error())
	}
	var a mat.Dense
	a.Mul(q, &pInv)

	t := cd.Sub(TransformPoint(cs, AffineFromLinear(&a, r3.Vector{})))
	m.t = AffineFromLinear(&a, t)
	return nil
}

// FitMatches fits m so that it maps every P1.W onto the matching P2.W.
func FitMatches(m Model, matches []PointMatch) error {
	src := make([]r3.Vector, len(matches))
	dst := make([]r3.Vector, len(matches))
	weights := make([]float64, len(matches))
	for i, pm := range matches {
		src[i] = pm.P1.W
		dst[i] = pm.P2.W
		weights[i] = pm.Weight
		if weights[i] <= 0 {
			weights[i] = 1
		}
	}
	return m.Fit(src, dst, weights)
}

// MatchResidual is the distance between the transformed P1 and P2.
func MatchResidual(m Model, pm PointMatch) float64 {
	return Distance(m.Apply(pm.P1.W), pm.P2.W)
}

func checkFitInput(src, dst []r3.Vector, weights []float64, min int) error {
	if len(src) != len(dst) {
		return errors.Errorf("mismatched correspondence lists (%d vs %d)", len(src), len(dst))
	}
	if weights != nil && len(weights) != len(src) {
		return errors.Errorf("mismatched weights (%d vs %d)", len(weights), len(src))
	}
	if len(src) < min {
		return errors.Wrapf(ErrInsufficientData, "%d correspondences, model needs %d", len(src), min)
	}
	return nil
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

func weightedCentroids(src, dst []r3.Vector, weights []float64) (r3.Vector, r3.Vector, float64, error) {
	var cs, cd r3.Vector
	total := 0.0
	for i := range src {
		w := weightAt(weights, i)
		total += w
		cs = cs.Add(src[i].Mul(w))
		cd = cd.Add(dst[i].Mul(w))
	}
	if total <= 0 {
		return cs, cd, 0, errors.Wrap(ErrIllDefinedModel, "sum of weights is not positive")
	}
	return cs.Mul(1 / total), cd.Mul(1 / total), total, nil
}

// procrustes returns the optimal rotation (and optionally isotropic scale) mapping
// the centred src onto the centred dst, plus both centroids.
func procrustes(src, dst []r3.Vector, weights []float64, withScale bool) (*mat.Dense, float64, r3.Vector, r3.Vector, error) {
	cs, cd, _, err := weightedCentroids(src, dst, weights)
	if err != nil {
		return nil, 0, cs, cd, err
	}

	// H = sum w (s - cs)(d - cd)^T
	h := mat.NewDense(3, 3, nil)
	varSrc := 0.0
	for i := range src {
		w := weightAt(weights, i)
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		varSrc += w * s.Norm2()
		sv, dv := vecSlice(s), vecSlice(d)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+w*sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, 0, cs, cd, errors.Wrap(ErrIllDefinedModel, "svd of cross-covariance did not converge")
	}
	values := svd.Values(nil)
	if values[0] < 1e-12 || values[1] < 1e-9*values[0] {
		return nil, 0, cs, cd, errors.Wrapf(ErrIllDefinedModel, "collinear correspondences (singular values %v)", values)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * D * U^T, D fixes a reflection if det(V U^T) < 0
	var vu mat.Dense
	vu.Mul(&v, u.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vu) < 0 {
		d.SetDiag(2, -1)
	}
	var vd, r mat.Dense
	vd.Mul(&v, d)
	r.Mul(&vd, u.T())

	scale := 1.0
	if withScale {
		if varSrc <= 0 {
			return nil, 0, cs, cd, errors.Wrap(ErrIllDefinedModel, "zero source variance")
		}
		trace := values[0] + values[1] + d.At(2, 2)*values[2]
		scale = trace / varSrc
	}
	return &r, scale, cs, cd, nil
}

// rotationAbout builds x -> scale*R*(x - cs) + cd.
func rotationAbout(r *mat.Dense, scale float64, cs, cd r3.Vector) AffineTransform {
	var sr mat.Dense
	sr.Scale(scale, r)
	lin := AffineFromLinear(&sr, r3.Vector{})
	t := cd.Sub(TransformPoint(cs, lin))
	return AffineFromLinear(&sr, t)
}

func vecSlice(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
