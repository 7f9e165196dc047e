package registration

import (
	"fmt"

	"github.com/pkg/errors"
)

// ViewTransform is one named step of a view's registration.
type ViewTransform struct {
	Name      string          `json:"name" yaml:"name"`
	Transform AffineTransform `json:"transform" yaml:"transform"`
}

// ViewRegistration is the list of transforms that map a view into world
// coordinates. Transforms[0] is the latest and is applied last.
type ViewRegistration struct {
	View       ViewID          `json:"view" yaml:"view"`
	Transforms []ViewTransform `json:"transforms" yaml:"transforms"`
}

// Model returns the concatenation of all transforms.
func (r ViewRegistration) Model() AffineTransform {
	m := Identity()
	for i := len(r.Transforms) - 1; i >= 0; i-- {
		m = MultiplyMatrices(r.Transforms[i].Transform, m)
	}
	return m
}

// PreConcatenate adds t as the latest transform, applied after all others.
func (r *ViewRegistration) PreConcatenate(t ViewTransform) {
	r.Transforms = append([]ViewTransform{t}, r.Transforms...)
}

// RemoveLatest drops the transform that was added last.
func (r *ViewRegistration) RemoveLatest() (ViewTransform, error) {
	if len(r.Transforms) == 0 {
		return ViewTransform{}, errors.Errorf("view %s has no transforms", r.View)
	}
	t := r.Transforms[0]
	r.Transforms = r.Transforms[1:]
	return t, nil
}

// RemoveFirst drops the transform that is applied first.
func (r *ViewRegistration) RemoveFirst() (ViewTransform, error) {
	if len(r.Transforms) == 0 {
		return ViewTransform{}, errors.Errorf("view %s has no transforms", r.View)
	}
	t := r.Transforms[len(r.Transforms)-1]
	r.Transforms = r.Transforms[:len(r.Transforms)-1]
	return t, nil
}

// Copy returns a registration that shares nothing with r.
func (r ViewRegistration) Copy() ViewRegistration {
	return ViewRegistration{View: r.View, Transforms: append([]ViewTransform(nil), r.Transforms...)}
}

// TransformName is the name given to transforms stored by a registration run.
func TransformName(model ModelType) string {
	return fmt.Sprintf("Interest point registration (%s)", model)
}
