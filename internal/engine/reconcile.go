package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lizi/internal/alerts"
	"lizi/internal/model"
	"lizi/internal/normalize"
	"lizi/internal/storage"
)

const maxMergeAttempts = 3

type Reconciler struct {
	store       storage.AlertStore
	recent      *alerts.Store
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

type Option func(*Reconciler)

func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.callTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

func NewReconciler(store storage.AlertStore, recent *alerts.Store, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		recent: recent,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Reconcile(ctx context.Context, review model.Review) model.Outcome {
	if err := normalize.Validate(review); err != nil {
		return r.failed(review, err)
	}
	if r.logger != nil {
		r.logger.Info("processing review",
			"review_id", review.ReviewID,
			"camera", review.Camera,
			"review_type", review.ReviewType,
		)
	}

	existing, err := r.lookup(ctx, review.ReviewID)
	if err != nil {
		return r.failed(review, err)
	}
	if existing != nil {
		return r.merge(ctx, *existing, review)
	}
	return r.create(ctx, review)
}

func (r *Reconciler) create(ctx context.Context, review model.Review) model.Outcome {
	ok, reasoning := Evaluate(review)
	now := r.now()
	stamp(&reasoning, review, now)
	if !ok {
		if r.logger != nil {
			r.logger.Info("review rejected",
				"review_id", review.ReviewID,
				"camera", review.Camera,
				"details", reasoning.Details,
			)
		}
		return model.Outcome{
			ReviewID:  review.ReviewID,
			Action:    model.ActionRejected,
			Status:    model.StatusNo,
			Reasoning: reasoning,
		}
	}

	alert := NewAlert(r.newID(), review, now)
	err := r.call(ctx, func(ctx context.Context) error {
		return r.store.InsertAlert(ctx, alert)
	})
	if errors.Is(err, storage.ErrAlertExists) {
		// Another writer created the alert between lookup and insert.
		existing, lookupErr := r.lookup(ctx, review.ReviewID)
		if lookupErr != nil {
			return r.failed(review, lookupErr)
		}
		if existing == nil {
			return r.failed(review, err)
		}
		return r.merge(ctx, *existing, review)
	}
	if err != nil {
		created := false
		reasoning.AlertCreated = &created
		reasoning.Error = fmt.Sprintf("failed to create alert in database: %v", err)
		if r.logger != nil {
			r.logger.Error("create alert failed", "review_id", review.ReviewID, "err", err)
		}
		return model.Outcome{
			ReviewID:  review.ReviewID,
			Action:    model.ActionFailed,
			Status:    model.StatusNo,
			Reasoning: reasoning,
			Err:       err,
		}
	}

	created := true
	reasoning.AlertCreated = &created
	reasoning.AlertID = alert.ID
	if r.recent != nil {
		r.recent.Put(alert)
	}
	if r.logger != nil {
		r.logger.Info("alert stored",
			"alert_id", alert.ID,
			"review_id", review.ReviewID,
			"camera", review.Camera,
			"categorization", alert.FrigateCategorization,
		)
	}
	return model.Outcome{
		ReviewID:  review.ReviewID,
		Action:    model.ActionCreated,
		Status:    model.StatusYes,
		Alert:     &alert,
		Reasoning: reasoning,
	}
}

func (r *Reconciler) merge(ctx context.Context, existing model.Alert, review model.Review) model.Outcome {
	var lastErr error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		now := r.now()
		merged := MergeReview(existing, review, now)
		err := r.call(ctx, func(ctx context.Context) error {
			return r.store.UpdateAlert(ctx, merged, existing.UpdateCount)
		})
		if err == nil {
			if r.recent != nil {
				r.recent.Put(merged)
			}
			if r.logger != nil {
				r.logger.Info("alert updated",
					"alert_id", merged.ID,
					"review_id", review.ReviewID,
					"review_type", review.ReviewType,
					"camera", review.Camera,
					"update_count", merged.UpdateCount,
				)
			}
			reasoning := model.Reasoning{
				Decision: true,
				Message:  fmt.Sprintf("Updated existing alert for %s review", review.ReviewType),
				AlertID:  merged.ID,
			}
			stamp(&reasoning, review, now)
			return model.Outcome{
				ReviewID:  review.ReviewID,
				Action:    model.ActionMerged,
				Status:    model.StatusYes,
				Alert:     &merged,
				Reasoning: reasoning,
			}
		}
		lastErr = err
		if !errors.Is(err, storage.ErrStaleAlert) {
			break
		}
		reloaded, err := r.lookup(ctx, review.ReviewID)
		if err != nil {
			lastErr = err
			break
		}
		if reloaded == nil {
			lastErr = fmt.Errorf("alert for %s disappeared during merge", review.ReviewID)
			break
		}
		existing = *reloaded
	}
	return r.failed(review, fmt.Errorf("merge alert: %w", lastErr))
}

func (r *Reconciler) lookup(ctx context.Context, eventID string) (*model.Alert, error) {
	var alert *model.Alert
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		alert, err = r.store.FindAlertByEventID(ctx, eventID)
		return err
	})
	return alert, err
}

func (r *Reconciler) failed(review model.Review, err error) model.Outcome {
	if r.logger != nil {
		r.logger.Error("error processing review",
			"review_id", review.ReviewID,
			"camera", review.Camera,
			"err", err,
		)
	}
	return model.Outcome{
		ReviewID:  review.ReviewID,
		Action:    model.ActionFailed,
		Status:    model.StatusNo,
		Reasoning: FailureReasoning(review, err, r.now()),
		Err:       err,
	}
}

func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) error {
	return Bounded(ctx, r.callTimeout, fn)
}

func Bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
