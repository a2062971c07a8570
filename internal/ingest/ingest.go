package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lizi/internal/engine"
	"lizi/internal/metrics"
	"lizi/internal/normalize"
	"lizi/internal/storage"
)

type Sink struct {
	writer  storage.ReviewWriter
	metrics *metrics.Collector
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewSink(writer storage.ReviewWriter, metricsCollector *metrics.Collector, logger *slog.Logger, timeout time.Duration) *Sink {
	return &Sink{
		writer:  writer,
		metrics: metricsCollector,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sink) Accept(ctx context.Context, source string, payload []byte) error {
	review, err := normalize.ParseReviewMessage(payload, s.now())
	if err != nil {
		s.observe(source, false)
		if s.logger != nil {
			s.logger.Warn("review message rejected", "source", source, "err", err)
		}
		return err
	}
	err = engine.Bounded(ctx, s.timeout, func(ctx context.Context) error {
		return s.writer.InsertReview(ctx, review)
	})
	if err != nil {
		s.observe(source, false)
		return fmt.Errorf("store review %s: %w", review.ReviewID, err)
	}
	s.observe(source, true)
	if s.logger != nil {
		s.logger.Info("review received",
			"source", source,
			"review_id", review.ReviewID,
			"camera", review.Camera,
			"review_type", review.ReviewType,
		)
	}
	return nil
}

func (s *Sink) observe(source string, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveIngest(source, ok)
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
