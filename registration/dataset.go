package registration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// ViewData is everything the dataset file stores about one view.
type ViewData struct {
	ViewDescription
	Transforms     []ViewTransform      `json:"transforms"`
	InterestPoints []*InterestPointList `json:"interestPoints,omitempty"`
}

// Dataset is the JSON-backed store of views, their registrations and their
// interest points. It implements ViewStore.
type Dataset struct {
	Name        string      `json:"name"`
	Views       []*ViewData `json:"views"`
	LastUpdated int64       `json:"lastUpdated"`

	index map[ViewID]*ViewData
}

// LoadDataset reads a dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("dataset file not found: %s", path)
		}
		return nil, errors.Wrap(err, "reading dataset file")
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, errors.Wrap(err, "parsing dataset file")
	}
	if err := ds.reindex(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// SaveDataset writes the dataset as indented JSON, creating the directory.
func SaveDataset(path string, ds *Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating dataset directory")
	}

	ds.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling dataset")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing dataset file")
	}
	return nil
}

func (ds *Dataset) reindex() error {
	ds.index = make(map[ViewID]*ViewData, len(ds.Views))
	for _, v := range ds.Views {
		if _, dup := ds.index[v.ID]; dup {
			return errors.Errorf("view %s is listed twice", v.ID)
		}
		ds.index[v.ID] = v
	}
	return nil
}

// AddView adds a view, or replaces the description of an existing one.
func (ds *Dataset) AddView(desc ViewDescription, transforms ...ViewTransform) *ViewData {
	if ds.index == nil {
		_ = ds.reindex()
	}
	if v, ok := ds.index[desc.ID]; ok {
		v.ViewDescription = desc
		return v
	}
	v := &ViewData{ViewDescription: desc, Transforms: transforms}
	ds.Views = append(ds.Views, v)
	ds.index[desc.ID] = v
	return v
}

// View returns the stored data of a view.
func (ds *Dataset) View(id ViewID) (*ViewData, bool) {
	if ds.index == nil {
		_ = ds.reindex()
	}
	v, ok := ds.index[id]
	return v, ok
}

// ViewDescriptions returns all views, sorted.
func (ds *Dataset) ViewDescriptions() []ViewDescription {
	out := make([]ViewDescription, len(ds.Views))
	for i, v := range ds.Views {
		out[i] = v.ViewDescription
	}
	SortViewDescriptions(out)
	return out
}

// PointList returns the interest point list of a view and label, or nil.
func (ds *Dataset) PointList(id ViewID, label string) *InterestPointList {
	v, ok := ds.View(id)
	if !ok {
		return nil
	}
	for _, l := range v.InterestPoints {
		if l.Label == label {
			return l
		}
	}
	return nil
}

// SetPoints stores the interest points of a view under label, dropping
// correspondences of an earlier list with the same label.
func (ds *Dataset) SetPoints(id ViewID, label string, points []InterestPoint) error {
	v, ok := ds.View(id)
	if !ok {
		return errors.Errorf("unknown view %s", id)
	}
	if l := ds.PointList(id, label); l != nil {
		l.Points = points
		l.ClearCorrespondences()
		return nil
	}
	v.InterestPoints = append(v.InterestPoints, &InterestPointList{Label: label, Points: points})
	return nil
}

// Points returns the interest points of a view and label.
func (ds *Dataset) Points(id ViewID, label string) ([]InterestPoint, bool) {
	l := ds.PointList(id, label)
	if l == nil {
		return nil, false
	}
	return l.Points, true
}

// Registration returns a copy of the registration of a view.
func (ds *Dataset) Registration(id ViewID) ViewRegistration {
	v, ok := ds.View(id)
	if !ok {
		return ViewRegistration{View: id}
	}
	return ViewRegistration{View: id, Transforms: v.Transforms}.Copy()
}

// SetRegistration replaces the registration of a known view.
func (ds *Dataset) SetRegistration(r ViewRegistration) {
	if v, ok := ds.View(r.View); ok {
		v.Transforms = r.Copy().Transforms
	}
}

// Registrations returns the registration of every view, sorted by view.
func (ds *Dataset) Registrations() []ViewRegistration {
	out := make([]ViewRegistration, 0, len(ds.Views))
	for _, d := range ds.ViewDescriptions() {
		out = append(out, ds.Registration(d.ID))
	}
	return out
}

// ClearCorrespondences forgets the correspondences of label on the given
// views, or on every view when views is empty. It returns the number of
// links removed.
func (ds *Dataset) ClearCorrespondences(label string, views []ViewID) int {
	targets := views
	if len(targets) == 0 {
		for _, v := range ds.Views {
			targets = append(targets, v.ID)
		}
	}
	removed := 0
	for _, id := range targets {
		if l := ds.PointList(id, label); l != nil {
			removed += len(l.Correspondences)
			l.ClearCorrespondences()
		}
	}
	return removed
}

// SortViewDescriptions sorts by view id.
func SortViewDescriptions(views []ViewDescription) {
	sort.Slice(views, func(i, j int) bool { return views[i].ID.Less(views[j].ID) })
}
