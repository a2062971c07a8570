package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lizi/internal/normalize"
)

type RESTServer struct {
	sink   *Sink
	logger *slog.Logger
}

func NewRESTHTTPServer(addr string, sink *Sink, logger *slog.Logger) *http.Server {
	return &http.Server{Addr: addr, Handler: NewRESTServer(sink, logger).Handler(), ReadHeaderTimeout: 10 * time.Second}
}

func NewRESTServer(sink *Sink, logger *slog.Logger) *RESTServer {
	return &RESTServer{sink: sink, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reviews", s.handleReviews)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *RESTServer) handleReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var messages []json.RawMessage
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &messages); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		messages = []json.RawMessage{trim}
	}

	accepted, rejected, failed := 0, 0, 0
	for _, msg := range messages {
		err := s.sink.Accept(r.Context(), "rest", msg)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, normalize.ErrInvalidReview):
			rejected++
		default:
			failed++
		}
	}

	status := http.StatusOK
	if failed > 0 && accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"rejected": rejected,
		"failed":   failed,
	})
}
