package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"lizi/internal/config"
	"lizi/internal/normalize"
)

func RunKafka(ctx context.Context, cfg config.KafkaConfig, sink *Sink, logger *slog.Logger) error {
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err)
			}
			BackoffSleep(ctx, time.Second)
			continue
		}
		if !acceptWithRetry(ctx, sink, "kafka", m.Value, logger) {
			return nil
		}
		if err := reader.CommitMessages(ctx, m); err != nil && logger != nil && ctx.Err() == nil {
			logger.Warn("kafka commit error", "err", err)
		}
	}
}

// Invalid messages are dropped; false means ctx is done.
func acceptWithRetry(ctx context.Context, sink *Sink, source string, payload []byte, logger *slog.Logger) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(func() error {
		err := sink.Accept(ctx, source, payload)
		if errors.Is(err, normalize.ErrInvalidReview) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		if logger != nil {
			logger.Warn("review store failed, retrying", "source", source, "err", err, "backoff", wait.String())
		}
	})
	return err == nil || errors.Is(err, normalize.ErrInvalidReview)
}
