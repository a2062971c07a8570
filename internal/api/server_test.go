package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lizi/internal/alerts"
	"lizi/internal/config"
	"lizi/internal/metrics"
	"lizi/internal/model"
)

type lookupStub struct {
	alerts  map[string]model.Alert
	pingErr error
}

func (s lookupStub) FindAlertByEventID(_ context.Context, eventID string) (*model.Alert, error) {
	a, ok := s.alerts[eventID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s lookupStub) Ping(context.Context) error { return s.pingErr }

func newTestServer(t *testing.T, store AlertLookup) (*Server, *alerts.Store, *metrics.Collector) {
	t.Helper()
	t.Setenv("LIZI_STORAGE_DRIVER", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: sqlite\n"), 0o600))
	mgr, err := config.NewManager(path)
	require.NoError(t, err)
	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)
	recent := alerts.NewStore(10)
	return NewServer(mgr, collector, recent, store, nil, "test"), recent, collector
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestAlertLookup(t *testing.T) {
	store := lookupStub{alerts: map[string]model.Alert{
		"r1": {ID: "a1", EventID: "r1", Camera: "front", UpdateCount: 2},
	}}
	server, _, _ := newTestServer(t, store)
	h := server.Handler()

	rec := get(t, h, "/alerts/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var alert model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	assert.Equal(t, "a1", alert.ID)
	assert.Equal(t, 2, alert.UpdateCount)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/alerts/missing").Code)
}

func TestRecentAlerts(t *testing.T) {
	server, recent, _ := newTestServer(t, lookupStub{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent.Put(model.Alert{EventID: "r1", CreatedAt: base})
	recent.Put(model.Alert{EventID: "r2", CreatedAt: base.Add(time.Hour)})
	h := server.Handler()

	var body struct {
		Count  int           `json:"count"`
		Alerts []model.Alert `json:"alerts"`
	}
	rec := get(t, h, "/alerts?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "r2", body.Alerts[0].EventID)

	rec = get(t, h, "/alerts?since="+base.Add(30*time.Minute).Format(time.RFC3339))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/alerts?since=yesterday").Code)
}

func TestStatusAndMetrics(t *testing.T) {
	server, _, collector := newTestServer(t, lookupStub{})
	collector.ObserveOutcome(model.ActionCreated)
	collector.ObserveCycle(1, time.Millisecond, time.Now())
	h := server.Handler()

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "sqlite", status.Storage)
	assert.Equal(t, 1, status.Stats.Outcomes[model.ActionCreated])
	assert.Equal(t, "test", status.Version)

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lizi_review_outcomes_total"))
}

func TestHealthReportsStoreErrors(t *testing.T) {
	server, _, _ := newTestServer(t, lookupStub{pingErr: errors.New("no route to host")})
	rec := get(t, server.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
