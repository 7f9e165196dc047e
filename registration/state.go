package registration

import (
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// StateTracker keeps the outcome of the latest run for the HTTP endpoints.
type StateTracker struct {
	mu            sync.RWMutex
	report        *Report
	registrations map[ViewID]ViewRegistration
	footprints    *geojson.FeatureCollection
	updated       time.Time
	running       bool
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		registrations: make(map[ViewID]ViewRegistration),
		footprints:    geojson.NewFeatureCollection(),
	}
}

// SetRunning marks whether a run is in progress. It returns false when the
// requested state is already set, so callers can refuse overlapping runs.
func (st *StateTracker) SetRunning(running bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running == running {
		return false
	}
	st.running = running
	return true
}

// Running reports whether a run is in progress.
func (st *StateTracker) Running() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.running
}

// Update records a finished run and the current state of the store.
func (st *StateTracker) Update(report *Report, store ViewStore) {
	views := store.ViewDescriptions()
	regs := make(map[ViewID]ViewRegistration, len(views))
	for _, v := range views {
		regs[v.ID] = store.Registration(v.ID)
	}
	fc := FootprintCollection(views, func(v ViewID) ViewRegistration { return regs[v] }, report)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.report = report
	st.registrations = regs
	st.footprints = fc
	st.updated = time.Now()
}

// Report returns the latest report, or nil before the first run.
func (st *StateTracker) Report() *Report {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.report
}

// Registrations returns a copy of every registration, sorted by view.
func (st *StateTracker) Registrations() []ViewRegistration {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]ViewID, 0, len(st.registrations))
	for id := range st.registrations {
		ids = append(ids, id)
	}
	SortViewIDs(ids)
	out := make([]ViewRegistration, len(ids))
	for i, id := range ids {
		out[i] = st.registrations[id].Copy()
	}
	return out
}

// Footprints returns the footprint collection of the latest update.
func (st *StateTracker) Footprints() *geojson.FeatureCollection {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.footprints
}

// LastUpdated returns when Update was last called.
func (st *StateTracker) LastUpdated() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.updated
}
