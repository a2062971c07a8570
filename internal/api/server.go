package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lizi/internal/alerts"
	"lizi/internal/config"
	"lizi/internal/metrics"
	"lizi/internal/model"
)

type AlertLookup interface {
	FindAlertByEventID(ctx context.Context, eventID string) (*model.Alert, error)
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Collector
	alerts  *alerts.Store
	store   AlertLookup
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status  string           `json:"status"`
	Time    string           `json:"time"`
	Version string           `json:"version"`
	Config  string           `json:"config_path"`
	Storage string           `json:"storage_driver"`
	Poller  pollerStatus     `json:"poller"`
	Ingest  ingestStatus     `json:"ingest"`
	Stats   metrics.Snapshot `json:"stats"`
}

type pollerStatus struct {
	Interval       string `json:"interval"`
	CallTimeout    string `json:"call_timeout"`
	SourceTimezone string `json:"source_timezone"`
}

type ingestStatus struct {
	MQTT  bool `json:"mqtt"`
	Kafka bool `json:"kafka"`
	REST  bool `json:"rest"`
}

func NewServer(cfg *config.Manager, metricsCollector *metrics.Collector, alertsStore *alerts.Store, store AlertLookup, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		metrics: metricsCollector,
		alerts:  alertsStore,
		store:   store,
		logger:  logger,
		version: version,
	}
}

func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/alerts/", s.handleAlert)
	mux.HandleFunc("/admin/clear", s.handleClear)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Config:  s.cfg.Path(),
		Storage: cfg.Storage.Driver,
		Poller: pollerStatus{
			Interval:       cfg.Poller.Interval.String(),
			CallTimeout:    cfg.Poller.CallTimeout.String(),
			SourceTimezone: cfg.Poller.SourceTimezone,
		},
		Ingest: ingestStatus{
			MQTT:  cfg.Ingest.MQTT.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
			REST:  cfg.Ingest.REST.Enabled,
		},
	}
	if s.metrics != nil {
		resp.Stats = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		if ts, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			list = s.alerts.Since(ts)
		} else {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := strings.TrimPrefix(r.URL.Path, "/alerts/")
	if eventID == "" || s.store == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	alert, err := s.store.FindAlertByEventID(r.Context(), eventID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("alert lookup failed", "event_id", eventID, "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.alerts != nil {
		s.alerts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
