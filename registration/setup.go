package registration

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// RegistrationType decides which view pairs are compared.
type RegistrationType string

const (
	// TypeIndividual compares views of the same timepoint only.
	TypeIndividual RegistrationType = "individual"
	// TypeReferenceTimepoint compares views inside the reference timepoint and
	// every other view against the reference timepoint.
	TypeReferenceTimepoint RegistrationType = "referenceTimepoint"
	// TypeAllToAll compares every pair of views.
	TypeAllToAll RegistrationType = "allToAll"
	// TypeAllToAllRange compares views whose timepoints are at most Range apart.
	TypeAllToAllRange RegistrationType = "allToAllRange"
)

// Valid reports whether t names a known registration type.
func (t RegistrationType) Valid() bool {
	switch t {
	case TypeIndividual, TypeReferenceTimepoint, TypeAllToAll, TypeAllToAllRange:
		return true
	}
	return false
}

// SetupParams configures pair enumeration.
type SetupParams struct {
	Type               RegistrationType `yaml:"type" json:"type"`
	ReferenceTimepoint int              `yaml:"referenceTimepoint" json:"referenceTimepoint"`
	Range              int              `yaml:"range" json:"range"`
	Excluded           []ViewPair       `yaml:"excluded" json:"excluded,omitempty"`
}

// PairwiseSetup builds the list of view pairs to match and splits the views
// into independently solvable subsets.
type PairwiseSetup struct {
	Views   []ViewID
	Groups  []Group
	Params  SetupParams
	Pairs   []ViewPair
	Subsets []*Subset

	groupOf map[ViewID]int
}

// NewPairwiseSetup prepares a setup over the given views. Groups may be empty;
// views not covered by a group stand on their own.
func NewPairwiseSetup(views []ViewID, groups []Group, params SetupParams) (*PairwiseSetup, error) {
	if !params.Type.Valid() {
		return nil, errors.Errorf("unknown registration type %q", params.Type)
	}
	vs := append([]ViewID(nil), views...)
	SortViewIDs(vs)

	known := make(map[ViewID]bool, len(vs))
	for _, v := range vs {
		known[v] = true
	}
	s := &PairwiseSetup{Views: vs, Params: params, groupOf: make(map[ViewID]int)}
	for _, g := range groups {
		var members []ViewID
		for _, v := range g.Views {
			if !known[v] {
				continue
			}
			if _, dup := s.groupOf[v]; dup {
				return nil, errors.Errorf("view %s is a member of more than one group", v)
			}
			members = append(members, v)
		}
		if len(members) < 2 {
			continue
		}
		for _, v := range members {
			s.groupOf[v] = len(s.Groups)
		}
		s.Groups = append(s.Groups, NewGroup(members...))
	}
	return s, nil
}

// SameGroup reports whether both views belong to the same declared group.
func (s *PairwiseSetup) SameGroup(a, b ViewID) bool {
	ga, okA := s.groupOf[a]
	gb, okB := s.groupOf[b]
	return okA && okB && ga == gb
}

// GroupOf returns the group containing v, or a group holding v alone.
func (s *PairwiseSetup) GroupOf(v ViewID) Group {
	if g, ok := s.groupOf[v]; ok {
		return s.Groups[g]
	}
	return NewGroup(v)
}

// DefinePairs enumerates the pairs required by the registration type and
// drops redundant ones. It returns the dropped pairs.
func (s *PairwiseSetup) DefinePairs() []ViewPair {
	s.Pairs = s.Pairs[:0]
	for i := 0; i < len(s.Views); i++ {
		for j := i + 1; j < len(s.Views); j++ {
			a, b := s.Views[i], s.Views[j]
			if s.wanted(a, b) {
				s.Pairs = append(s.Pairs, ViewPair{A: a, B: b})
			}
		}
	}
	return s.removeRedundantPairs()
}

func (s *PairwiseSetup) wanted(a, b ViewID) bool {
	switch s.Params.Type {
	case TypeIndividual:
		return a.Timepoint == b.Timepoint
	case TypeReferenceTimepoint:
		ref := s.Params.ReferenceTimepoint
		return a.Timepoint == ref || b.Timepoint == ref
	case TypeAllToAllRange:
		d := a.Timepoint - b.Timepoint
		if d < 0 {
			d = -d
		}
		return d <= s.Params.Range
	default:
		return true
	}
}

func (s *PairwiseSetup) removeRedundantPairs() []ViewPair {
	excluded := make(map[ViewPair]bool, len(s.Params.Excluded))
	for _, p := range s.Params.Excluded {
		excluded[p.Ordered()] = true
	}
	var removed []ViewPair
	kept := s.Pairs[:0]
	for _, p := range s.Pairs {
		if s.SameGroup(p.A, p.B) || excluded[p.Ordered()] {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	s.Pairs = kept
	return removed
}

// RemoveNonOverlappingPairs drops pairs the detector rejects and returns them.
func (s *PairwiseSetup) RemoveNonOverlappingPairs(d OverlapDetector) []ViewPair {
	var removed []ViewPair
	kept := s.Pairs[:0]
	for _, p := range s.Pairs {
		if !d.Overlaps(p.A, p.B) {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	s.Pairs = kept
	return removed
}

// ReorderPairs orients every pair so A < B and sorts the list.
func (s *PairwiseSetup) ReorderPairs() {
	for i, p := range s.Pairs {
		s.Pairs[i] = p.Ordered()
	}
	SortViewPairs(s.Pairs)
}

// DetectSubsets splits the views into connected components of the graph
// formed by the pairs. Members of a group are always connected.
func (s *PairwiseSetup) DetectSubsets() {
	index := make(map[ViewID]int64, len(s.Views))
	g := simple.NewUndirectedGraph()
	for i, v := range s.Views {
		index[v] = int64(i)
		g.AddNode(simple.Node(i))
	}
	connect := func(a, b ViewID) {
		ia, ib := index[a], index[b]
		if ia == ib || g.HasEdgeBetween(ia, ib) {
			return
		}
		g.SetEdge(g.NewEdge(simple.Node(ia), simple.Node(ib)))
	}
	for _, p := range s.Pairs {
		connect(p.A, p.B)
	}
	for _, grp := range s.Groups {
		for _, v := range grp.Views[1:] {
			connect(grp.Views[0], v)
		}
	}

	s.Subsets = s.Subsets[:0]
	for _, component := range topo.ConnectedComponents(g) {
		members := make(map[ViewID]bool, len(component))
		views := make([]ViewID, 0, len(component))
		for _, n := range component {
			v := s.Views[n.ID()]
			members[v] = true
			views = append(views, v)
		}
		SortViewIDs(views)

		var pairs []ViewPair
		for _, p := range s.Pairs {
			if members[p.A] && members[p.B] {
				pairs = append(pairs, p)
			}
		}
		var groups []Group
		for _, grp := range s.Groups {
			if members[grp.First()] {
				groups = append(groups, grp)
			}
		}
		s.Subsets = append(s.Subsets, NewSubset(views, pairs, groups))
	}
}

// SortSubsets orders subsets by their smallest view.
func (s *PairwiseSetup) SortSubsets() {
	sort.SliceStable(s.Subsets, func(i, j int) bool {
		return s.Subsets[i].Views[0].Less(s.Subsets[j].Views[0])
	})
}

// DefaultFixedViews returns the views the registration type pins: all views
// of the reference timepoint for TypeReferenceTimepoint, none otherwise.
func (s *PairwiseSetup) DefaultFixedViews() []ViewID {
	if s.Params.Type != TypeReferenceTimepoint {
		return nil
	}
	var fixed []ViewID
	for _, v := range s.Views {
		if v.Timepoint == s.Params.ReferenceTimepoint {
			fixed = append(fixed, v)
		}
	}
	return fixed
}

// Run performs every setup step in order and returns the pairs that were
// dropped as redundant and as non-overlapping.
func (s *PairwiseSetup) Run(d OverlapDetector) (redundant, nonOverlapping []ViewPair) {
	redundant = s.DefinePairs()
	nonOverlapping = s.RemoveNonOverlappingPairs(d)
	s.ReorderPairs()
	s.DetectSubsets()
	s.SortSubsets()
	return redundant, nonOverlapping
}

// FixPolicy decides which views of a subset stay pinned.
type FixPolicy string

const (
	FixFirst    FixPolicy = "first"
	FixExplicit FixPolicy = "explicit"
	FixNone     FixPolicy = "none"
)

// Valid reports whether p names a known policy.
func (p FixPolicy) Valid() bool {
	return p == FixFirst || p == FixExplicit || p == FixNone
}

// SelectFixedViews returns the fixed views of a subset: the registration
// type's defaults plus whatever the policy adds.
func SelectFixedViews(subset *Subset, policy FixPolicy, explicit, defaults []ViewID) []ViewID {
	chosen := make(map[ViewID]bool)
	for _, v := range defaults {
		if subset.Contains(v) {
			chosen[v] = true
		}
	}
	switch policy {
	case FixFirst:
		if len(chosen) == 0 && len(subset.Views) > 0 {
			chosen[subset.Views[0]] = true
		}
	case FixExplicit:
		for _, v := range explicit {
			if subset.Contains(v) {
				chosen[v] = true
			}
		}
	}
	out := make([]ViewID, 0, len(chosen))
	for v := range chosen {
		out = append(out, v)
	}
	SortViewIDs(out)
	return out
}
