package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// GroupingMode decides whether views of a group are matched as one point set.
type GroupingMode string

const (
	GroupingNone   GroupingMode = "none"
	GroupingAddAll GroupingMode = "addAll"
)

// GroupedInterestPoint is a representative of one cluster of the merged point
// set of a group. ID is its index in the grouped set; View, OriginalID and
// OriginalL point back at the interest point it was taken from.
type GroupedInterestPoint struct {
	InterestPoint
	View       ViewID    `json:"view"`
	OriginalID int64     `json:"originalId"`
	OriginalL  r3.Vector `json:"originalL"`
}

// GroupInterestPoints merges the world points of the group's views in view
// order and keeps one representative per cluster: a point is dropped when an
// earlier kept point lies within radius. A radius <= 0 keeps every point.
func GroupInterestPoints(group Group, points map[ViewID][]InterestPoint, radius float64) []GroupedInterestPoint {
	var merged []GroupedInterestPoint
	for _, v := range group.Views {
		for _, p := range points[v] {
			merged = append(merged, GroupedInterestPoint{
				InterestPoint: InterestPoint{ID: int64(len(merged)), L: p.W, W: p.W, Weight: p.Weight},
				View:          v,
				OriginalID:    p.ID,
				OriginalL:     p.L,
			})
		}
	}
	if radius <= 0 || len(merged) == 0 {
		return merged
	}

	flat := make([]InterestPoint, len(merged))
	for i, g := range merged {
		flat[i] = g.InterestPoint
	}
	index := newNeighborIndex(flat)

	visited := make([]bool, len(merged))
	out := make([]GroupedInterestPoint, 0, len(merged))
	for i := range merged {
		if visited[i] {
			continue
		}
		for _, j := range index.within(merged[i].W, radius) {
			visited[j] = true
		}
		visited[i] = true
		g := merged[i]
		g.ID = int64(len(out))
		out = append(out, g)
	}
	return out
}

// GroupedPoints returns the plain interest points of a grouped set.
func GroupedPoints(grouped []GroupedInterestPoint) []InterestPoint {
	out := make([]InterestPoint, len(grouped))
	for i, g := range grouped {
		out[i] = g.InterestPoint
	}
	return out
}

// RedistributeGroupedResult maps the inliers of a group-to-group result back
// to the views the matched points came from. Every correspondence must
// resolve to one view of each group; anything else is an error.
func RedistributeGroupedResult(r PairwiseResult, groupedA, groupedB []GroupedInterestPoint) (map[ViewPair][]PointMatch, error) {
	out := make(map[ViewPair][]PointMatch)
	for _, pm := range r.Inliers {
		ga, err := lookupGrouped(groupedA, pm.P1.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "first group %s", r.A)
		}
		gb, err := lookupGrouped(groupedB, pm.P2.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "second group %s", r.B)
		}
		if !r.A.Contains(ga.View) || !r.B.Contains(gb.View) {
			return nil, errors.Errorf("correspondence %d<->%d resolves to %s and %s outside %s",
				pm.P1.ID, pm.P2.ID, ga.View, gb.View, GroupPair{A: r.A, B: r.B})
		}
		if ga.View == gb.View {
			return nil, errors.Errorf("correspondence %d<->%d resolves to a single view %s", pm.P1.ID, pm.P2.ID, ga.View)
		}
		pair := ViewPair{A: ga.View, B: gb.View}
		out[pair] = append(out[pair], PointMatch{
			P1:     InterestPoint{ID: ga.OriginalID, L: ga.OriginalL, W: ga.W, Weight: ga.Weight},
			P2:     InterestPoint{ID: gb.OriginalID, L: gb.OriginalL, W: gb.W, Weight: gb.Weight},
			Weight: pm.Weight,
		})
	}
	return out, nil
}

func lookupGrouped(grouped []GroupedInterestPoint, id int64) (GroupedInterestPoint, error) {
	if id < 0 || id >= int64(len(grouped)) || grouped[id].ID != id {
		return GroupedInterestPoint{}, errors.Errorf("grouped point %d not found", id)
	}
	return grouped[id], nil
}
