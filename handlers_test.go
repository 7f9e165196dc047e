package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/multiview/registration"
)

func serveRequest(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	app := loadedApp(t, writeTestDataset(t), "")
	h := newHTTPServer(context.Background(), app)

	rec := serveRequest(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status struct {
		Status  string `json:"status"`
		Running bool   `json:"running"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.False(t, status.Running)
}

func TestEndpointsBeforeFirstRun(t *testing.T) {
	app := loadedApp(t, writeTestDataset(t), "")
	h := newHTTPServer(context.Background(), app)

	assert.Equal(t, http.StatusServiceUnavailable, serveRequest(h, http.MethodGet, "/report").Code)
	assert.Equal(t, http.StatusNotFound, serveRequest(h, http.MethodGet, "/runs").Code)

	rec := serveRequest(h, http.MethodGet, "/registrations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	// Serve primes the tracker with the loaded dataset
	app.StateTracker.Update(nil, app.Dataset)
	rec = serveRequest(h, http.MethodGet, "/registrations")
	var regs []registration.ViewRegistration
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&regs))
	assert.Len(t, regs, 4)

	rec = serveRequest(h, http.MethodGet, "/footprints.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "FeatureCollection")
}

func TestRegisterEndpoint(t *testing.T) {
	app := loadedApp(t, writeTestDataset(t), filepath.Join(t.TempDir(), "runs.db"))
	h := newHTTPServer(context.Background(), app)

	assert.Equal(t, http.StatusMethodNotAllowed, serveRequest(h, http.MethodGet, "/register").Code)

	require.Equal(t, http.StatusAccepted, serveRequest(h, http.MethodPost, "/register").Code)
	assert.Eventually(t, func() bool {
		return app.StateTracker.Report() != nil && !app.StateTracker.Running()
	}, 30*time.Second, 10*time.Millisecond)

	rec := serveRequest(h, http.MethodGet, "/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Views  int `json:"views"`
		Failed int `json:"failedSubsets"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 3, summary.Views)
	assert.Zero(t, summary.Failed)

	rec = serveRequest(h, http.MethodGet, "/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []registration.RunRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, serveRequest(h, http.MethodGet, "/runs?limit=x").Code)
}

func TestRegisterEndpointConflict(t *testing.T) {
	app := loadedApp(t, writeTestDataset(t), "")
	h := newHTTPServer(context.Background(), app)

	require.True(t, app.StateTracker.SetRunning(true))
	assert.Equal(t, http.StatusConflict, serveRequest(h, http.MethodPost, "/register").Code)
}
