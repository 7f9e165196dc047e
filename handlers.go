package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/multiview/registration"
)

// newHTTPServer creates an HTTP server with all endpoints. Registrations
// started with POST /register run under ctx.
func newHTTPServer(ctx context.Context, app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		app.Logger.Debugf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			Running     bool      `json:"running"`
			LastUpdated time.Time `json:"lastUpdated,omitempty"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			Running:     app.StateTracker.Running(),
			LastUpdated: app.StateTracker.LastUpdated(),
		}
		writeJSON(w, app, "application/json", status)
	})

	// Statistics of the latest run
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		report := app.StateTracker.Report()
		if report == nil {
			http.Error(w, "No registration has run yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, app, "application/json", report)
	})

	mux.HandleFunc("/registrations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, app, "application/json", app.StateTracker.Registrations())
	})

	// View footprints in the xy plane, for map viewers
	mux.HandleFunc("/footprints.geojson", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, app, "application/geo+json", app.StateTracker.Footprints())
	})

	// Run history, newest first
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if app.Runs == nil {
			http.Error(w, "No run database configured", http.StatusNotFound)
			return
		}
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := app.Runs.Runs(r.Context(), limit)
		if err != nil {
			app.Logger.Errorf("[HTTP] /runs: %v", err)
			http.Error(w, "Failed to read runs", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []registration.RunRecord{}
		}
		writeJSON(w, app, "application/json", runs)
	})

	// Start a registration in the background
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !app.StateTracker.SetRunning(true) {
			http.Error(w, "A registration is already running", http.StatusConflict)
			return
		}
		go func() {
			defer app.StateTracker.SetRunning(false)
			report, err := app.register(ctx)
			if err != nil {
				app.Logger.Errorf("[REGISTER] %v", err)
				return
			}
			app.Logger.Infof("[REGISTER] finished: %d subsets, %d failed", len(report.Subsets), report.Failed)
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, app *App, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Errorf("[HTTP] encoding response: %v", err)
	}
}
