package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// AffineTransform is a 3D affine transform stored as the upper 3x4 block of a
// homogeneous matrix:
//
//	x' = M00*x + M01*y + M02*z + M03
//	y' = M10*x + M11*y + M12*z + M13
//	z' = M20*x + M21*y + M22*z + M23
type AffineTransform struct {
	M00 float64 `json:"m00" yaml:"m00"`
	M01 float64 `json:"m01" yaml:"m01"`
	M02 float64 `json:"m02" yaml:"m02"`
	M03 float64 `json:"m03" yaml:"m03"`
	M10 float64 `json:"m10" yaml:"m10"`
	M11 float64 `json:"m11" yaml:"m11"`
	M12 float64 `json:"m12" yaml:"m12"`
	M13 float64 `json:"m13" yaml:"m13"`
	M20 float64 `json:"m20" yaml:"m20"`
	M21 float64 `json:"m21" yaml:"m21"`
	M22 float64 `json:"m22" yaml:"m22"`
	M23 float64 `json:"m23" yaml:"m23"`
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{M00: 1, M11: 1, M22: 1}
}

// Translation creates a translation-only transform.
func Translation(tx, ty, tz float64) AffineTransform {
	t := Identity()
	t.M03, t.M13, t.M23 = tx, ty, tz
	return t
}

// Scale creates an axis-aligned scaling transform.
func Scale(sx, sy, sz float64) AffineTransform {
	return AffineTransform{M00: sx, M11: sy, M22: sz}
}

// RotationX creates a rotation around the x axis (radians).
func RotationX(angle float64) AffineTransform {
	c, s := math.Cos(angle), math.Sin(angle)
	return AffineTransform{M00: 1, M11: c, M12: -s, M21: s, M22: c}
}

// RotationY creates a rotation around the y axis (radians).
func RotationY(angle float64) AffineTransform {
	c, s := math.Cos(angle), math.Sin(angle)
	return AffineTransform{M00: c, M02: s, M11: 1, M20: -s, M22: c}
}

// RotationZ creates a rotation around the z axis (radians).
func RotationZ(angle float64) AffineTransform {
	c, s := math.Cos(angle), math.Sin(angle)
	return AffineTransform{M00: c, M01: -s, M10: s, M11: c, M22: 1}
}

// TransformPoint applies an affine transform to a point.
func TransformPoint(p r3.Vector, m AffineTransform) r3.Vector {
	return r3.Vector{
		X: m.M00*p.X + m.M01*p.Y + m.M02*p.Z + m.M03,
		Y: m.M10*p.X + m.M11*p.Y + m.M12*p.Z + m.M13,
		Z: m.M20*p.X + m.M21*p.Y + m.M22*p.Z + m.M23,
	}
}

// TransformPoints applies an affine transform to multiple points.
func TransformPoints(points []r3.Vector, m AffineTransform) []r3.Vector {
	result := make([]r3.Vector, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two transforms: result = m1 * m2.
// Applying result is equivalent to applying m2 first, then m1.
func MultiplyMatrices(m1, m2 AffineTransform) AffineTransform {
	return AffineTransform{
		M00: m1.M00*m2.M00 + m1.M01*m2.M10 + m1.M02*m2.M20,
		M01: m1.M00*m2.M01 + m1.M01*m2.M11 + m1.M02*m2.M21,
		M02: m1.M00*m2.M02 + m1.M01*m2.M12 + m1.M02*m2.M22,
		M03: m1.M00*m2.M03 + m1.M01*m2.M13 + m1.M02*m2.M23 + m1.M03,

		M10: m1.M10*m2.M00 + m1.M11*m2.M10 + m1.M12*m2.M20,
		M11: m1.M10*m2.M01 + m1.M11*m2.M11 + m1.M12*m2.M21,
		M12: m1.M10*m2.M02 + m1.M11*m2.M12 + m1.M12*m2.M22,
		M13: m1.M10*m2.M03 + m1.M11*m2.M13 + m1.M12*m2.M23 + m1.M13,

		M20: m1.M20*m2.M00 + m1.M21*m2.M10 + m1.M22*m2.M20,
		M21: m1.M20*m2.M01 + m1.M21*m2.M11 + m1.M22*m2.M21,
		M22: m1.M20*m2.M02 + m1.M21*m2.M12 + m1.M22*m2.M22,
		M23: m1.M20*m2.M03 + m1.M21*m2.M13 + m1.M22*m2.M23 + m1.M23,
	}
}

// Determinant returns the determinant of the linear 3x3 part.
func (m AffineTransform) Determinant() float64 {
	return m.M00*(m.M11*m.M22-m.M12*m.M21) -
		m.M01*(m.M10*m.M22-m.M12*m.M20) +
		m.M02*(m.M10*m.M21-m.M11*m.M20)
}

// Invert computes the inverse transform. Singular matrices yield ErrIllDefinedModel;
// the caller decides what to fall back to.
func (m AffineTransform) Invert() (AffineTransform, error) {
	det := m.Determinant()
	if math.Abs(det) < 1e-12 {
		return Identity(), errors.Wrapf(ErrIllDefinedModel, "singular transform (det=%g)", det)
	}
	inv := 1.0 / det

	r := AffineTransform{
		M00: (m.M11*m.M22 - m.M12*m.M21) * inv,
		M01: (m.M02*m.M21 - m.M01*m.M22) * inv,
		M02: (m.M01*m.M12 - m.M02*m.M11) * inv,
		M10: (m.M12*m.M20 - m.M10*m.M22) * inv,
		M11: (m.M00*m.M22 - m.M02*m.M20) * inv,
		M12: (m.M02*m.M10 - m.M00*m.M12) * inv,
		M20: (m.M10*m.M21 - m.M11*m.M20) * inv,
		M21: (m.M01*m.M20 - m.M00*m.M21) * inv,
		M22: (m.M00*m.M11 - m.M01*m.M10) * inv,
	}
	// t' = -R^-1 * t
	r.M03 = -(r.M00*m.M03 + r.M01*m.M13 + r.M02*m.M23)
	r.M13 = -(r.M10*m.M03 + r.M11*m.M13 + r.M12*m.M23)
	r.M23 = -(r.M20*m.M03 + r.M21*m.M13 + r.M22*m.M23)
	return r, nil
}

// TranslationPart returns the translation column.
func (m AffineTransform) TranslationPart() r3.Vector {
	return r3.Vector{X: m.M03, Y: m.M13, Z: m.M23}
}

// ApproxEqual reports whether all twelve entries differ by at most eps.
func (m AffineTransform) ApproxEqual(o AffineTransform, eps float64) bool {
	a, b := m.Values(), o.Values()
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest entry-wise difference between two transforms.
func (m AffineTransform) MaxAbsDiff(o AffineTransform) float64 {
	a, b := m.Values(), o.Values()
	max := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max
}

// Values returns the entries in row-major order.
func (m AffineTransform) Values() [12]float64 {
	return [12]float64{
		m.M00, m.M01, m.M02, m.M03,
		m.M10, m.M11, m.M12, m.M13,
		m.M20, m.M21, m.M22, m.M23,
	}
}

// AffineFromValues builds a transform from twelve row-major entries.
func AffineFromValues(v [12]float64) AffineTransform {
	return AffineTransform{
		M00: v[0], M01: v[1], M02: v[2], M03: v[3],
		M10: v[4], M11: v[5], M12: v[6], M13: v[7],
		M20: v[8], M21: v[9], M22: v[10], M23: v[11],
	}
}

// Dense returns the transform as a 4x4 homogeneous gonum matrix.
func (m AffineTransform) Dense() *mat.Dense {
	v := m.Values()
	data := make([]float64, 0, 16)
	data = append(data, v[:]...)
	data = append(data, 0, 0, 0, 1)
	return mat.NewDense(4, 4, data)
}

// AffineFromLinear builds a transform from a 3x3 linear part and a translation.
func AffineFromLinear(r mat.Matrix, t r3.Vector) AffineTransform {
	return AffineTransform{
		M00: r.At(0, 0), M01: r.At(0, 1), M02: r.At(0, 2), M03: t.X,
		M10: r.At(1, 0), M11: r.At(1, 1), M12: r.At(1, 2), M13: t.Y,
		M20: r.At(2, 0), M21: r.At(2, 1), M22: r.At(2, 2), M23: t.Z,
	}
}

// Distance calculates the Euclidean distance between two points.
func Distance(p1, p2 r3.Vector) float64 {
	return p1.Sub(p2).Norm()
}

// Centroid calculates the center of mass of a set of points.
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// BoxCorners returns the eight corners of the axis-aligned box [0,size].
func BoxCorners(size r3.Vector) []r3.Vector {
	corners := make([]r3.Vector, 0, 8)
	for _, x := range []float64{0, size.X} {
		for _, y := range []float64{0, size.Y} {
			for _, z := range []float64{0, size.Z} {
				corners = append(corners, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	return corners
}
