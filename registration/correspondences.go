package registration

import "sort"

// CorrespondingPoint links a point of one view to a point of another view.
type CorrespondingPoint struct {
	ID         int64  `json:"id"`
	OtherView  ViewID `json:"otherView"`
	OtherLabel string `json:"otherLabel"`
	OtherID    int64  `json:"otherId"`
}

// InterestPointList is the stored interest points of one view and label
// together with the correspondences found for them.
type InterestPointList struct {
	Label           string               `json:"label"`
	Points          []InterestPoint      `json:"points"`
	Correspondences []CorrespondingPoint `json:"correspondences,omitempty"`
}

// ClearCorrespondences forgets every correspondence of the list.
func (l *InterestPointList) ClearCorrespondences() {
	l.Correspondences = nil
}

// RemoveCorrespondencesTo forgets the correspondences pointing at other.
func (l *InterestPointList) RemoveCorrespondencesTo(other ViewID, label string) int {
	kept := l.Correspondences[:0]
	removed := 0
	for _, c := range l.Correspondences {
		if c.OtherView == other && c.OtherLabel == label {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	l.Correspondences = kept
	return removed
}

func (l *InterestPointList) add(c CorrespondingPoint) bool {
	for _, e := range l.Correspondences {
		if e == c {
			return false
		}
	}
	l.Correspondences = append(l.Correspondences, c)
	return true
}

// AddCorrespondences records matches between view a (list la) and view b
// (list lb) in both lists. P1 of every match belongs to a, P2 to b.
// Duplicates are skipped; the number of new links is returned.
func AddCorrespondences(a ViewID, la *InterestPointList, b ViewID, lb *InterestPointList, matches []PointMatch) int {
	added := 0
	for _, pm := range matches {
		if la.add(CorrespondingPoint{ID: pm.P1.ID, OtherView: b, OtherLabel: lb.Label, OtherID: pm.P2.ID}) {
			added++
		}
		lb.add(CorrespondingPoint{ID: pm.P2.ID, OtherView: a, OtherLabel: la.Label, OtherID: pm.P1.ID})
	}
	la.sortCorrespondences()
	lb.sortCorrespondences()
	return added
}

func (l *InterestPointList) sortCorrespondences() {
	sort.SliceStable(l.Correspondences, func(i, j int) bool {
		ci, cj := l.Correspondences[i], l.Correspondences[j]
		if ci.ID != cj.ID {
			return ci.ID < cj.ID
		}
		if ci.OtherView != cj.OtherView {
			return ci.OtherView.Less(cj.OtherView)
		}
		return ci.OtherID < cj.OtherID
	})
}
