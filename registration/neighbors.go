package registration

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// treePoint is a world coordinate stored in the kd-tree together with its
// position in the source slice and its point id.
type treePoint struct {
	idx int
	id  int64
	pos r3.Vector
}

// Compare implements kdtree.Comparable.
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	switch d {
	case 0:
		return p.pos.X - q.pos.X
	case 1:
		return p.pos.Y - q.pos.Y
	default:
		return p.pos.Z - q.pos.Z
	}
}

// Dims implements kdtree.Comparable.
func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	return p.pos.Sub(c.(treePoint).pos).Norm2()
}

// treePoints satisfies kdtree.Interface.
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p treePoints) Len() int                              { return len(p) }
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p treePoints) Pivot(d kdtree.Dim) int {
	plane := treePlane{treePoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

type treePlane struct {
	treePoints
	kdtree.Dim
}

func (p treePlane) Less(i, j int) bool {
	return p.treePoints[i].Compare(p.treePoints[j], p.Dim) < 0
}

func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[start:end]
	return p
}

func (p treePlane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

// neighborIndex answers nearest-neighbour and radius queries over the world
// coordinates of a point list. Results always refer to indices into that list.
type neighborIndex struct {
	points []InterestPoint
	tree   *kdtree.Tree
}

func newNeighborIndex(points []InterestPoint) *neighborIndex {
	n := &neighborIndex{points: points}
	if len(points) == 0 {
		return n
	}
	tp := make(treePoints, len(points))
	for i, p := range points {
		tp[i] = treePoint{idx: i, id: p.ID, pos: p.W}
	}
	n.tree = kdtree.New(tp, false)
	return n
}

type neighborHit struct {
	idx  int
	dist float64 // squared
}

// sortHits orders hits by distance, then by point id, then by index.
func (n *neighborIndex) sortHits(hits []neighborHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		a, b := n.points[hits[i].idx], n.points[hits[j].idx]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return hits[i].idx < hits[j].idx
	})
}

func (n *neighborIndex) collect(keeper kdtree.Heap) []neighborHit {
	hits := make([]neighborHit, 0, len(keeper))
	for _, item := range keeper {
		// keepers carry a sentinel entry with no Comparable
		if item.Comparable == nil {
			continue
		}
		hits = append(hits, neighborHit{idx: item.Comparable.(treePoint).idx, dist: item.Dist})
	}
	return hits
}

// withinSquared returns every point whose squared distance to q is at most d2,
// ordered by (distance, id).
func (n *neighborIndex) withinSquared(q r3.Vector, d2 float64) []neighborHit {
	if n.tree == nil {
		return nil
	}
	keeper := kdtree.NewDistKeeper(d2)
	n.tree.NearestSet(keeper, treePoint{idx: -1, pos: q})
	hits := n.collect(keeper.Heap)
	n.sortHits(hits)
	return hits
}

// within returns the indices of all points within radius of q, nearest first.
func (n *neighborIndex) within(q r3.Vector, radius float64) []int {
	hits := n.withinSquared(q, radius*radius)
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

// nearestTo returns the index of the point closest to q and its distance.
func (n *neighborIndex) nearestTo(q r3.Vector) (int, float64, bool) {
	if n.tree == nil {
		return -1, math.Inf(1), false
	}
	got, d2 := n.tree.Nearest(treePoint{idx: -1, pos: q})
	if got == nil {
		return -1, math.Inf(1), false
	}
	// several points may share the minimum distance; resolve by id
	hits := n.withinSquared(q, d2)
	if len(hits) > 0 {
		return hits[0].idx, math.Sqrt(hits[0].dist), true
	}
	return got.(treePoint).idx, math.Sqrt(d2), true
}

// nearest returns the indices of the k points closest to points[basis],
// excluding basis itself, ordered by (distance, id).
func (n *neighborIndex) nearest(basis, k int) ([]int, error) {
	if len(n.points) < k+1 {
		return nil, errors.Wrapf(ErrInsufficientData, "%d points, need at least %d for %d neighbours", len(n.points), k+1, k)
	}
	q := treePoint{idx: basis, id: n.points[basis].ID, pos: n.points[basis].W}

	// the k+1 nearest include the basis; their largest distance bounds the
	// sweep that collects every point tied at the cut-off
	keeper := kdtree.NewNKeeper(k + 1)
	n.tree.NearestSet(keeper, q)
	cut := 0.0
	for _, item := range keeper.Heap {
		if item.Comparable != nil && item.Dist > cut {
			cut = item.Dist
		}
	}

	hits := n.withinSquared(q.pos, cut)
	out := make([]int, 0, k)
	for _, h := range hits {
		if h.idx == basis {
			continue
		}
		out = append(out, h.idx)
		if len(out) == k {
			break
		}
	}
	if len(out) < k {
		return nil, errors.Wrapf(ErrInsufficientData, "found %d of %d neighbours", len(out), k)
	}
	return out, nil
}

// NearestNeighbors returns the k points nearest to points[basis] in world
// coordinates, excluding the basis, ordered by distance with ties broken by
// ascending point id.
func NearestNeighbors(points []InterestPoint, basis, k int) ([]InterestPoint, error) {
	if basis < 0 || basis >= len(points) {
		return nil, errors.Errorf("basis index %d out of range [0,%d)", basis, len(points))
	}
	idx, err := newNeighborIndex(points).nearest(basis, k)
	if err != nil {
		return nil, err
	}
	out := make([]InterestPoint, len(idx))
	for i, j := range idx {
		out[i] = points[j]
	}
	return out, nil
}
