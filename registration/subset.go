package registration

import "sort"

// Subset is one connected component of the view graph. It is solved
// independently of all other subsets.
type Subset struct {
	Views  []ViewID
	Pairs  []ViewPair
	Groups []Group
	Fixed  []ViewID
	// Singleton marks a subset without any pair to match.
	Singleton bool

	members map[ViewID]bool
	groupOf map[ViewID]int
}

// NewSubset creates a subset; views and pairs are expected to be sorted.
func NewSubset(views []ViewID, pairs []ViewPair, groups []Group) *Subset {
	s := &Subset{
		Views:   views,
		Pairs:   pairs,
		Groups:  groups,
		members: make(map[ViewID]bool, len(views)),
		groupOf: make(map[ViewID]int),
	}
	for _, v := range views {
		s.members[v] = true
	}
	for i, g := range groups {
		for _, v := range g.Views {
			s.groupOf[v] = i
		}
	}
	s.Singleton = len(pairs) == 0
	return s
}

// Contains reports whether v belongs to the subset.
func (s *Subset) Contains(v ViewID) bool { return s.members[v] }

// ViewsSorted returns a sorted copy of the member views.
func (s *Subset) ViewsSorted() []ViewID {
	out := append([]ViewID(nil), s.Views...)
	SortViewIDs(out)
	return out
}

// GroupOf returns the group v belongs to within the subset; views without a
// declared group form their own.
func (s *Subset) GroupOf(v ViewID) Group {
	if i, ok := s.groupOf[v]; ok {
		return s.Groups[i]
	}
	return NewGroup(v)
}

// Nodes returns one group per node of the optimization graph, sorted.
func (s *Subset) Nodes() []Group {
	seen := make(map[string]bool)
	var out []Group
	for _, v := range s.Views {
		g := s.GroupOf(v)
		if seen[g.Key()] {
			continue
		}
		seen[g.Key()] = true
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// FixViews records the fixed views and drops pairs whose views are both
// fixed, returning the dropped pairs.
func (s *Subset) FixViews(fixed []ViewID) []ViewPair {
	s.Fixed = nil
	isFixed := make(map[ViewID]bool, len(fixed))
	for _, v := range fixed {
		if s.members[v] {
			isFixed[v] = true
			s.Fixed = append(s.Fixed, v)
		}
	}
	SortViewIDs(s.Fixed)

	var removed []ViewPair
	kept := s.Pairs[:0]
	for _, p := range s.Pairs {
		if isFixed[p.A] && isFixed[p.B] {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	s.Pairs = kept
	return removed
}

// IsFixed reports whether v was pinned by FixViews.
func (s *Subset) IsFixed(v ViewID) bool {
	for _, f := range s.Fixed {
		if f == v {
			return true
		}
	}
	return false
}

// GroupedPairs returns the distinct pairs of groups implied by the view
// pairs, oriented and sorted like the view pairs.
func (s *Subset) GroupedPairs() []GroupPair {
	seen := make(map[string]bool)
	var out []GroupPair
	for _, p := range s.Pairs {
		ga, gb := s.GroupOf(p.A), s.GroupOf(p.B)
		if ga.Key() == gb.Key() {
			continue
		}
		if gb.Less(ga) {
			ga, gb = gb, ga
		}
		key := ga.Key() + "|" + gb.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, GroupPair{A: ga, B: gb})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].A.Key() != out[j].A.Key() {
			return out[i].A.Less(out[j].A)
		}
		return out[i].B.Less(out[j].B)
	})
	return out
}
