package registration

import (
	"math"

	"github.com/golang/geo/r3"
)

// OverlapDetector decides whether two views may share interest points.
type OverlapDetector interface {
	Overlaps(a, b ViewID) bool
}

// AllOverlap treats every pair of views as overlapping.
type AllOverlap struct{}

func (AllOverlap) Overlaps(ViewID, ViewID) bool { return true }

// Box is an axis-aligned bounding box in world coordinates.
type Box struct {
	Min r3.Vector `json:"min"`
	Max r3.Vector `json:"max"`
}

// BoundsOf returns the smallest box containing all points.
func BoundsOf(points []r3.Vector) Box {
	b := Box{
		Min: r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	for _, p := range points {
		b.Min = r3.Vector{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vector{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b
}

// Intersects reports whether the boxes share a region of positive volume.
// Boxes that only touch do not intersect.
func (b Box) Intersects(o Box) bool {
	return math.Min(b.Max.X, o.Max.X) > math.Max(b.Min.X, o.Min.X) &&
		math.Min(b.Max.Y, o.Max.Y) > math.Max(b.Min.Y, o.Min.Y) &&
		math.Min(b.Max.Z, o.Max.Z) > math.Max(b.Min.Z, o.Min.Z)
}

// WorldBounds maps the corners of a view of the given size through t.
func WorldBounds(size r3.Vector, t AffineTransform) Box {
	return BoundsOf(TransformPoints(BoxCorners(size), t))
}

// BoundingBoxOverlap compares the world bounding boxes of the views under
// their current registrations.
type BoundingBoxOverlap struct {
	boxes map[ViewID]Box
}

// NewBoundingBoxOverlap computes one world box per view. model returns the
// current registration of a view.
func NewBoundingBoxOverlap(views []ViewDescription, model func(ViewID) AffineTransform) *BoundingBoxOverlap {
	d := &BoundingBoxOverlap{boxes: make(map[ViewID]Box, len(views))}
	for _, v := range views {
		d.boxes[v.ID] = WorldBounds(v.Size, model(v.ID))
	}
	return d
}

// Overlaps is false for views it has no box for.
func (d *BoundingBoxOverlap) Overlaps(a, b ViewID) bool {
	ba, ok := d.boxes[a]
	if !ok {
		return false
	}
	bb, ok := d.boxes[b]
	if !ok {
		return false
	}
	return ba.Intersects(bb)
}

// Box returns the world box of a view.
func (d *BoundingBoxOverlap) Box(v ViewID) (Box, bool) {
	b, ok := d.boxes[v]
	return b, ok
}
