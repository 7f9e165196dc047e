package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MapBackMode selects how an unanchored subset is returned to its original frame.
type MapBackMode string

const (
	MapBackNone        MapBackMode = "none"
	MapBackExact       MapBackMode = "exact"
	MapBackTranslation MapBackMode = "translation"
	MapBackRigid       MapBackMode = "rigid"
)

// Valid reports whether m names a known mode.
func (m MapBackMode) Valid() bool {
	switch m {
	case MapBackNone, MapBackExact, MapBackTranslation, MapBackRigid:
		return true
	}
	return false
}

// MapBack composes a common delta onto every correction so that the reference
// view stays where it was before optimization.
//
// MapBackExact uses the inverse of the reference correction and leaves the
// reference with exactly the identity. MapBackTranslation and MapBackRigid fit
// the delta on the corners of the reference view, mapped through prior and
// through the corrected prior.
func MapBack(mode MapBackMode, corrections map[ViewID]AffineTransform, reference ViewID, size r3.Vector, prior AffineTransform) (map[ViewID]AffineTransform, error) {
	if mode == MapBackNone || mode == "" {
		return corrections, nil
	}
	refCorrection, ok := corrections[reference]
	if !ok {
		return nil, errors.Errorf("map-back reference %s is not part of the subset", reference)
	}

	var delta AffineTransform
	switch mode {
	case MapBackExact:
		inv, err := refCorrection.Invert()
		if err != nil {
			return nil, errors.Wrapf(err, "inverting correction of reference %s", reference)
		}
		delta = inv
	case MapBackTranslation, MapBackRigid:
		before := TransformPoints(BoxCorners(size), prior)
		after := TransformPoints(before, refCorrection)
		model := MustNewModel(ModelTranslation)
		if mode == MapBackRigid {
			model = MustNewModel(ModelRigid)
		}
		if err := model.Fit(after, before, nil); err != nil {
			return nil, errors.Wrapf(err, "fitting map-back on reference %s", reference)
		}
		delta = model.Transform()
	default:
		return nil, errors.Errorf("unknown map-back mode %q", mode)
	}

	out := make(map[ViewID]AffineTransform, len(corrections))
	for v, c := range corrections {
		out[v] = MultiplyMatrices(delta, c)
	}
	if mode == MapBackExact {
		out[reference] = Identity()
	}
	return out, nil
}
