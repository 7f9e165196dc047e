package registration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/r3"
)

// ViewID identifies one acquisition by timepoint and view setup.
type ViewID struct {
	Timepoint int `json:"timepoint" yaml:"timepoint"`
	Setup     int `json:"setup" yaml:"setup"`
}

func (v ViewID) String() string {
	return fmt.Sprintf("tpId=%d setupId=%d", v.Timepoint, v.Setup)
}

// Less orders views by timepoint, then by setup.
func (v ViewID) Less(o ViewID) bool {
	if v.Timepoint != o.Timepoint {
		return v.Timepoint < o.Timepoint
	}
	return v.Setup < o.Setup
}

// SortViewIDs sorts views in place by timepoint, then setup.
func SortViewIDs(views []ViewID) {
	sort.Slice(views, func(i, j int) bool { return views[i].Less(views[j]) })
}

// Group is a set of views that is treated as a single node of the registration
// graph. Views are kept sorted and unique.
type Group struct {
	Views []ViewID `json:"views" yaml:"views"`
}

// NewGroup builds a group from the given views, sorting and de-duplicating them.
func NewGroup(views ...ViewID) Group {
	seen := make(map[ViewID]struct{}, len(views))
	out := make([]ViewID, 0, len(views))
	for _, v := range views {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	SortViewIDs(out)
	return Group{Views: out}
}

// Key returns a stable string usable as a map key.
func (g Group) Key() string {
	parts := make([]string, len(g.Views))
	for i, v := range g.Views {
		parts[i] = fmt.Sprintf("%d:%d", v.Timepoint, v.Setup)
	}
	return strings.Join(parts, ",")
}

// Contains reports whether v is a member of the group.
func (g Group) Contains(v ViewID) bool {
	for _, m := range g.Views {
		if m == v {
			return true
		}
	}
	return false
}

// First returns the smallest member view.
func (g Group) First() ViewID {
	if len(g.Views) == 0 {
		return ViewID{}
	}
	return g.Views[0]
}

func (g Group) String() string {
	parts := make([]string, len(g.Views))
	for i, v := range g.Views {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Less orders groups by their first view.
func (g Group) Less(o Group) bool {
	return g.First().Less(o.First())
}

// InterestPoint is an immutable 3D landmark. L is the coordinate inside the view,
// W is L mapped through the view's registration at the time the record was made.
type InterestPoint struct {
	ID     int64     `json:"id"`
	L      r3.Vector `json:"l"`
	W      r3.Vector `json:"w"`
	Weight float64   `json:"weight,omitempty"`
}

// NewInterestPoint creates a point whose world coordinate equals its local one.
func NewInterestPoint(id int64, x, y, z float64) InterestPoint {
	p := r3.Vector{X: x, Y: y, Z: z}
	return InterestPoint{ID: id, L: p, W: p, Weight: 1}
}

// Transformed returns a copy of p with W = t(L).
func (p InterestPoint) Transformed(t AffineTransform) InterestPoint {
	p.W = TransformPoint(p.L, t)
	return p
}

// TransformInterestPoints maps every point's local coordinate through t.
func TransformInterestPoints(points []InterestPoint, t AffineTransform) []InterestPoint {
	out := make([]InterestPoint, len(points))
	for i, p := range points {
		out[i] = p.Transformed(t)
	}
	return out
}

// PointMatch pairs a point of one set with a point of another.
type PointMatch struct {
	P1     InterestPoint `json:"p1"`
	P2     InterestPoint `json:"p2"`
	Weight float64       `json:"weight"`
}

// NewPointMatch creates a match with unit weight.
func NewPointMatch(p1, p2 InterestPoint) PointMatch {
	return PointMatch{P1: p1, P2: p2, Weight: 1}
}

// ViewPair is an unordered pair of views; ReorderPairs normalises it so A < B.
type ViewPair struct {
	A ViewID `json:"a"`
	B ViewID `json:"b"`
}

func (p ViewPair) String() string {
	return p.A.String() + " <=> " + p.B.String()
}

// Ordered returns the pair with A < B.
func (p ViewPair) Ordered() ViewPair {
	if p.B.Less(p.A) {
		return ViewPair{A: p.B, B: p.A}
	}
	return p
}

// Less orders pairs lexicographically.
func (p ViewPair) Less(o ViewPair) bool {
	if p.A != o.A {
		return p.A.Less(o.A)
	}
	return p.B.Less(o.B)
}

// SortViewPairs sorts pairs lexicographically in place.
func SortViewPairs(pairs []ViewPair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
}

// GroupPair is a pair of groups to be matched against each other.
type GroupPair struct {
	A Group `json:"a"`
	B Group `json:"b"`
}

func (p GroupPair) String() string {
	return p.A.String() + " <=> " + p.B.String()
}

// ViewDescription carries the per-view facts the core needs from the dataset:
// the voxel extent of the image, used for bounding-box overlap and map-back.
type ViewDescription struct {
	ID   ViewID    `json:"id"`
	Size r3.Vector `json:"size"`
}
