package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// GlobalOptParams controls the iterative relaxation of a subset.
type GlobalOptParams struct {
	MaxIterations        int     `yaml:"maxIterations" json:"maxIterations"`
	ConvergenceThreshold float64 `yaml:"convergenceThreshold" json:"convergenceThreshold"`
	PreAlign             bool    `yaml:"preAlign" json:"preAlign"`
}

// DefaultGlobalOptParams returns the parameters used when nothing is configured.
func DefaultGlobalOptParams() GlobalOptParams {
	return GlobalOptParams{
		MaxIterations:        10000,
		ConvergenceThreshold: 1e-6,
		PreAlign:             true,
	}
}

// GlobalOptResult holds the corrections of one subset. A correction maps the
// world coordinates a view had before registration onto its new ones, so the
// new registration of v is Corrections[v] applied after the old one.
type GlobalOptResult struct {
	Corrections map[ViewID]AffineTransform
	Iterations  int
	Error       float64
	MaxError    float64
	// PreAlignDeferred lists the nodes that had too few aligned partners
	// during pre-alignment and start relaxation from the identity.
	PreAlignDeferred []Group
}

type tileMatch struct {
	own     r3.Vector
	partner *tile
	other   r3.Vector
	weight  float64
}

type tile struct {
	group   Group
	model   Model
	fixed   bool
	matches []tileMatch
}

func (t *tile) fit() error {
	src := make([]r3.Vector, len(t.matches))
	dst := make([]r3.Vector, len(t.matches))
	w := make([]float64, len(t.matches))
	for i, m := range t.matches {
		src[i] = m.own
		dst[i] = m.partner.model.Apply(m.other)
		w[i] = m.weight
	}
	return t.model.Fit(src, dst, w)
}

// fitTo fits t using only matches whose partner is in aligned.
func (t *tile) fitTo(aligned map[*tile]bool) error {
	var src, dst []r3.Vector
	var w []float64
	for _, m := range t.matches {
		if !aligned[m.partner] {
			continue
		}
		src = append(src, m.own)
		dst = append(dst, m.partner.model.Apply(m.other))
		w = append(w, m.weight)
	}
	return t.model.Fit(src, dst, w)
}

func (t *tile) partners() []*tile {
	seen := make(map[*tile]bool)
	var out []*tile
	for _, m := range t.matches {
		if !seen[m.partner] {
			seen[m.partner] = true
			out = append(out, m.partner)
		}
	}
	return out
}

// OptimizeSubset solves one consistent transform per node of the subset from
// the inliers of the pairwise results. Fixed views keep the identity
// correction. Results that failed are ignored.
func OptimizeSubset(ctx context.Context, subset *Subset, results []PairwiseResult, modelType ModelType, p GlobalOptParams) (GlobalOptResult, error) {
	nodes := subset.Nodes()
	tiles := make([]*tile, len(nodes))
	byView := make(map[ViewID]*tile)
	for i, g := range nodes {
		m, err := NewModel(modelType)
		if err != nil {
			return GlobalOptResult{}, err
		}
		t := &tile{group: g, model: m}
		for _, v := range g.Views {
			byView[v] = t
			if subset.IsFixed(v) {
				t.fixed = true
			}
		}
		tiles[i] = t
	}

	out := GlobalOptResult{Corrections: make(map[ViewID]AffineTransform, len(subset.Views))}
	identityAll := func() GlobalOptResult {
		for _, v := range subset.Views {
			out.Corrections[v] = Identity()
		}
		return out
	}

	allFixed := true
	for _, t := range tiles {
		if !t.fixed {
			allFixed = false
		}
	}
	if allFixed {
		return identityAll(), nil
	}

	for _, r := range results {
		if !r.OK() {
			continue
		}
		ta, tb := byView[r.A.First()], byView[r.B.First()]
		if ta == nil || tb == nil || ta == tb {
			continue
		}
		for _, pm := range r.Inliers {
			w := pm.Weight
			if w <= 0 {
				w = 1
			}
			ta.matches = append(ta.matches, tileMatch{own: pm.P1.W, partner: tb, other: pm.P2.W, weight: w})
			tb.matches = append(tb.matches, tileMatch{own: pm.P2.W, partner: ta, other: pm.P1.W, weight: w})
		}
	}

	anchors, err := anchorTiles(tiles)
	if err != nil {
		return GlobalOptResult{}, err
	}

	if p.PreAlign {
		for _, t := range preAlign(tiles, anchors) {
			out.PreAlignDeferred = append(out.PreAlignDeferred, t.group)
		}
	}

	prev := math.Inf(1)
	for it := 0; it < p.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return GlobalOptResult{}, err
		}
		for _, t := range tiles {
			if anchors[t] {
				continue
			}
			if err := t.fit(); err != nil {
				return GlobalOptResult{}, errors.Wrapf(ErrUnderconstrainedSystem, "tile %s: %v", t.group, err)
			}
		}
		out.Iterations = it + 1
		cur, max := tileErrors(tiles)
		out.Error, out.MaxError = cur, max
		if math.Abs(prev-cur) < p.ConvergenceThreshold {
			break
		}
		prev = cur
	}

	for _, t := range tiles {
		for _, v := range t.group.Views {
			out.Corrections[v] = t.model.Transform()
		}
	}
	return out, nil
}

// anchorTiles returns the tiles held in place during relaxation. Every
// connected part of the tile graph needs one; a subset without fixed views
// is anchored at its first tile.
func anchorTiles(tiles []*tile) (map[*tile]bool, error) {
	anchors := make(map[*tile]bool)
	hasFixed := false
	for _, t := range tiles {
		if t.fixed {
			anchors[t] = true
			hasFixed = true
		}
	}
	for _, t := range tiles {
		if t.fixed {
			continue
		}
		if len(t.matches) == 0 {
			return nil, errors.Wrapf(ErrUnderconstrainedSystem, "tile %s has no correspondences", t.group)
		}
		if len(t.matches) < t.model.MinNumMatches() {
			return nil, errors.Wrapf(ErrUnderconstrainedSystem, "tile %s has %d correspondences, %s model needs %d",
				t.group, len(t.matches), t.model.Type(), t.model.MinNumMatches())
		}
	}

	visited := make(map[*tile]bool)
	components := 0
	for _, t := range tiles {
		if visited[t] {
			continue
		}
		components++
		component := reachable(t)
		anchored := false
		for _, c := range component {
			visited[c] = true
			anchored = anchored || c.fixed
		}
		if anchored {
			continue
		}
		if hasFixed || components > 1 {
			return nil, errors.Wrapf(ErrUnderconstrainedSystem, "tiles connected to %s have no fixed view", t.group)
		}
		anchors[t] = true
	}
	return anchors, nil
}

// reachable returns start and every tile connected to it, breadth first.
func reachable(start *tile) []*tile {
	seen := map[*tile]bool{start: true}
	queue := []*tile{start}
	for i := 0; i < len(queue); i++ {
		for _, n := range queue[i].partners() {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return queue
}

// preAlign fits tiles breadth first from the anchors, each against the tiles
// that are already aligned. A tile that cannot be fit yet is retried when
// another of its partners gets aligned. It returns the tiles never fit.
func preAlign(tiles []*tile, anchors map[*tile]bool) []*tile {
	aligned := make(map[*tile]bool, len(tiles))
	var queue []*tile
	for _, t := range tiles {
		if anchors[t] {
			aligned[t] = true
			queue = append(queue, t)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, n := range queue[i].partners() {
			if aligned[n] {
				continue
			}
			if err := n.fitTo(aligned); err != nil {
				continue
			}
			aligned[n] = true
			queue = append(queue, n)
		}
	}
	var deferred []*tile
	for _, t := range tiles {
		if !aligned[t] {
			deferred = append(deferred, t)
		}
	}
	return deferred
}

// tileErrors returns the weighted mean and the max distance over all matches.
func tileErrors(tiles []*tile) (float64, float64) {
	sum, weights, max := 0.0, 0.0, 0.0
	for _, t := range tiles {
		for _, m := range t.matches {
			d := Distance(t.model.Apply(m.own), m.partner.model.Apply(m.other))
			sum += d * m.weight
			weights += m.weight
			if d > max {
				max = d
			}
		}
	}
	if weights == 0 {
		return 0, 0
	}
	return sum / weights, max
}
