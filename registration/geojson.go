package registration

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Footprint projects the box [0,size] mapped by t onto the XY plane and
// returns its outline as a closed polygon.
func Footprint(size r3.Vector, t AffineTransform) orb.Polygon {
	corners := TransformPoints(BoxCorners(size), t)
	points := make([]orb.Point, len(corners))
	for i, c := range corners {
		points[i] = orb.Point{c.X, c.Y}
	}
	hull := convexHull(points)
	if len(hull) > 0 && hull[0] != hull[len(hull)-1] {
		hull = append(hull, hull[0])
	}
	return orb.Polygon{orb.Ring(hull)}
}

// FootprintCollection renders the registered footprint of every view, plus a
// line between the footprint centres of every successfully matched pair of
// the report. report may be nil.
func FootprintCollection(views []ViewDescription, registration func(ViewID) ViewRegistration, report *Report) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	sorted := make([]ViewDescription, len(views))
	copy(sorted, views)
	SortViewDescriptions(sorted)

	centres := make(map[ViewID]orb.Point, len(sorted))
	for _, v := range sorted {
		reg := registration(v.ID)
		poly := Footprint(v.Size, reg.Model())
		centre, area := planar.CentroidArea(poly)
		centres[v.ID] = centre

		f := geojson.NewFeature(poly)
		f.ID = v.ID.String()
		f.Properties["kind"] = "view"
		f.Properties["timepoint"] = v.ID.Timepoint
		f.Properties["setup"] = v.ID.Setup
		f.Properties["area"] = area
		f.Properties["transforms"] = len(reg.Transforms)
		if len(reg.Transforms) > 0 {
			f.Properties["latest"] = reg.Transforms[0].Name
		}
		fc.Append(f)
	}

	if report == nil {
		return fc
	}
	for _, ps := range report.Pairs {
		if ps.Failed {
			continue
		}
		a, okA := centres[ps.A.First()]
		b, okB := centres[ps.B.First()]
		if !okA || !okB {
			continue
		}
		f := geojson.NewFeature(orb.LineString{a, b})
		f.Properties["kind"] = "pair"
		f.Properties["a"] = ps.A.String()
		f.Properties["b"] = ps.B.String()
		f.Properties["inliers"] = ps.Inliers
		f.Properties["avgError"] = ps.AvgError
		fc.Append(f)
	}
	return fc
}

// convexHull returns the hull of points in counter-clockwise order using
// Andrew's monotone chain. The ring is not closed.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		out := make([]orb.Point, len(points))
		copy(out, points)
		return out
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
