package poller

import (
	"context"
	"log/slog"
	"time"

	"lizi/internal/engine"
	"lizi/internal/metrics"
	"lizi/internal/model"
	"lizi/internal/storage"
)

type Reconciler interface {
	Reconcile(ctx context.Context, review model.Review) model.Outcome
}

type Options struct {
	Interval    time.Duration
	CallTimeout time.Duration
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	Now func() time.Time
}

type Poller struct {
	source      storage.ReviewSource
	reconciler  Reconciler
	metrics     *metrics.Collector
	logger      *slog.Logger
	interval    time.Duration
	callTimeout time.Duration
	now         func() time.Time

	// lastCheck is nil until the first successful cycle.
	lastCheck *time.Time
}

type CycleResult struct {
	Fetched  int
	Outcomes []model.Outcome
	Cursor   time.Time
}

func New(source storage.ReviewSource, reconciler Reconciler, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Poller{
		source:      source,
		reconciler:  reconciler,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		interval:    opts.Interval,
		callTimeout: opts.CallTimeout,
		now:         opts.Now,
	}
}

func (p *Poller) Cursor() *time.Time {
	if p.lastCheck == nil {
		return nil
	}
	t := *p.lastCheck
	return &t
}

func (p *Poller) Run(ctx context.Context) error {
	if p.logger != nil {
		p.logger.Info("watching for reviews", "interval", p.interval.String())
	}
	for {
		if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
			if p.logger != nil {
				p.logger.Error("error polling reviews", "err", err)
			}
		}
		if !sleep(ctx, p.interval) {
			return ctx.Err()
		}
	}
}

// Cycle never moves the cursor past the pre-fetch time.
func (p *Poller) Cycle(ctx context.Context) (CycleResult, error) {
	started := p.now()
	since := p.Cursor()
	if p.logger != nil {
		if since == nil {
			p.logger.Info("first run after restart: processing all waiting reviews")
		} else {
			p.logger.Debug("checking for reviews",
				"since", since.Format(time.RFC3339Nano),
				"until", started.Format(time.RFC3339Nano),
			)
		}
	}

	var reviews []model.Review
	err := engine.Bounded(ctx, p.callTimeout, func(ctx context.Context) error {
		var err error
		reviews, err = p.source.FetchWaiting(ctx, since)
		return err
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.ObserveFetchError()
		}
		return CycleResult{}, err
	}
	if p.logger != nil {
		if len(reviews) > 0 {
			p.logger.Info("found new reviews", "count", len(reviews))
		} else {
			p.logger.Debug("no new reviews found")
		}
	}

	result := CycleResult{Fetched: len(reviews)}
	cursor := started
	for _, review := range reviews {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome := p.reconciler.Reconcile(ctx, review)
		if p.metrics != nil {
			p.metrics.ObserveOutcome(outcome.Action)
		}
		if !p.markProcessed(ctx, review, outcome) && !review.CreatedAt.IsZero() && review.CreatedAt.Before(cursor) {
			cursor = review.CreatedAt
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	p.lastCheck = &cursor
	result.Cursor = cursor
	if p.metrics != nil {
		p.metrics.ObserveCycle(len(reviews), p.now().Sub(started), cursor)
	}
	return result, nil
}

func (p *Poller) markProcessed(ctx context.Context, review model.Review, outcome model.Outcome) bool {
	err := engine.Bounded(ctx, p.callTimeout, func(ctx context.Context) error {
		return p.source.MarkProcessed(ctx, review, outcome.Status, outcome.Reasoning)
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.ObserveStatusError()
		}
		if p.logger != nil {
			p.logger.Error("error updating review status",
				"review_id", review.ReviewID,
				"status", outcome.Status,
				"err", err,
			)
		}
		return false
	}
	if p.logger != nil {
		p.logger.Info("updated review status",
			"review_id", review.ReviewID,
			"status", outcome.Status,
			"action", outcome.Action,
		)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
