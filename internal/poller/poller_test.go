package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lizi/internal/alerts"
	"lizi/internal/engine"
	"lizi/internal/metrics"
	"lizi/internal/model"
	"lizi/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu       sync.Mutex
	waiting  []model.Review
	sinces   []*time.Time
	fetchErr error
	markErr  func(model.Review) error
	marked   map[int64]model.ReviewStatus
}

func (f *fakeSource) FetchWaiting(_ context.Context, since *time.Time) ([]model.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var copied *time.Time
	if since != nil {
		t := *since
		copied = &t
	}
	f.sinces = append(f.sinces, copied)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []model.Review
	for _, r := range f.waiting {
		if _, done := f.marked[r.ID]; done {
			continue
		}
		if since != nil && r.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) MarkProcessed(_ context.Context, review model.Review, status model.ReviewStatus, _ model.Reasoning) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		if err := f.markErr(review); err != nil {
			return err
		}
	}
	if f.marked == nil {
		f.marked = map[int64]model.ReviewStatus{}
	}
	f.marked[review.ID] = status
	return nil
}

type recordingReconciler struct {
	mu   sync.Mutex
	seen []int64
}

func (r *recordingReconciler) Reconcile(_ context.Context, review model.Review) model.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, review.ID)
	return model.Outcome{ReviewID: review.ReviewID, Action: model.ActionCreated, Status: model.StatusYes}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func review(id int64, reviewID string, typ model.ReviewType) model.Review {
	return model.Review{
		ID:          id,
		ReviewID:    reviewID,
		Camera:      "front",
		ReviewType:  typ,
		Status:      model.StatusWaiting,
		IsAlert:     true,
		Objects:     []string{"person"},
		SnapshotURL: "s3://snap/" + reviewID,
		CreatedAt:   base.Add(time.Duration(id) * time.Millisecond),
	}
}

func TestColdStartThenWarmCursor(t *testing.T) {
	src := &fakeSource{waiting: []model.Review{review(1, "r1", model.ReviewNew)}}
	clock := &stepClock{now: base}
	p := New(src, &recordingReconciler{}, Options{Now: clock.Now})

	assert.Nil(t, p.Cursor())
	first, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Fetched)
	require.NotNil(t, p.Cursor())

	second, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Fetched)

	require.Len(t, src.sinces, 2)
	assert.Nil(t, src.sinces[0], "cold start must fetch without a lower bound")
	require.NotNil(t, src.sinces[1])
	assert.True(t, src.sinces[1].Equal(first.Cursor), "warm cycle must use the previous pre-fetch time")
	assert.True(t, first.Cursor.Equal(base))
}

func TestFetchErrorKeepsCursor(t *testing.T) {
	src := &fakeSource{}
	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)
	p := New(src, &recordingReconciler{}, Options{Metrics: collector})

	_, err = p.Cycle(context.Background())
	require.NoError(t, err)
	cursor := p.Cursor()
	require.NotNil(t, cursor)

	src.fetchErr = errors.New("connection refused")
	_, err = p.Cycle(context.Background())
	require.Error(t, err)
	assert.True(t, p.Cursor().Equal(*cursor))
	assert.Equal(t, 1, collector.Snapshot().FetchErrors)
}

func TestColdStartFetchErrorStaysCold(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("timeout")}
	p := New(src, &recordingReconciler{}, Options{})

	_, err := p.Cycle(context.Background())
	require.Error(t, err)
	assert.Nil(t, p.Cursor())
}

func TestBatchProcessedInFetchOrder(t *testing.T) {
	src := &fakeSource{waiting: []model.Review{
		review(1, "r1", model.ReviewNew),
		review(2, "r1", model.ReviewUpdate),
		review(3, "r2", model.ReviewNew),
		review(4, "r1", model.ReviewEnd),
	}}
	rec := &recordingReconciler{}
	p := New(src, rec, Options{})

	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, rec.seen)
	assert.Len(t, res.Outcomes, 4)
	assert.Len(t, src.marked, 4)
}

func TestStatusFailureLeavesReviewWaiting(t *testing.T) {
	failed := false
	waiting := review(1, "r1", model.ReviewNew)
	src := &fakeSource{
		waiting: []model.Review{waiting},
		markErr: func(model.Review) error {
			if !failed {
				failed = true
				return errors.New("write timeout")
			}
			return nil
		},
	}
	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)
	rec := &recordingReconciler{}
	clock := &stepClock{now: base.Add(time.Hour)}
	p := New(src, rec, Options{Metrics: collector, Now: clock.Now})

	res, err := p.Cycle(context.Background())
	require.NoError(t, err, "status write failures do not fail the cycle")
	assert.Empty(t, src.marked)
	assert.Equal(t, 1, collector.Snapshot().StatusErrors)
	assert.True(t, res.Cursor.Equal(waiting.CreatedAt), "cursor must not pass a review that is still waiting")

	res, err = p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, []int64{1, 1}, rec.seen)
	assert.Equal(t, model.StatusYes, src.marked[1])
	assert.True(t, res.Cursor.After(waiting.CreatedAt))
}

func TestCancelledCycleDoesNotAdvance(t *testing.T) {
	src := &fakeSource{waiting: []model.Review{review(1, "r1", model.ReviewNew)}}
	p := New(src, &recordingReconciler{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Cycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, p.Cursor())
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	p := New(src, &recordingReconciler{}, Options{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.sinces) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// flakyStatusStore fails the first status write for one row, standing in for
// a crash between the alert write and the status write.
type flakyStatusStore struct {
	storage.Store
	failID int64
	failed bool
}

func (s *flakyStatusStore) MarkProcessed(ctx context.Context, r model.Review, status model.ReviewStatus, reasoning model.Reasoning) error {
	if r.ID == s.failID && !s.failed {
		s.failed = true
		return errors.New("connection reset")
	}
	return s.Store.MarkProcessed(ctx, r, status, reasoning)
}

func TestLifecycleAgainstStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:", time.UTC)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Init(ctx))

	for i, typ := range []model.ReviewType{model.ReviewNew, model.ReviewUpdate, model.ReviewEnd} {
		r := review(0, "r1", typ)
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.InsertReview(ctx, r))
	}

	recent := alerts.NewStore(10)
	rec := engine.NewReconciler(store, recent, nil)
	src := &flakyStatusStore{Store: store, failID: 2}
	clock := &stepClock{now: base.Add(time.Hour)}
	p := New(src, rec, Options{Now: clock.Now})

	res, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)

	// The update row is still waiting; the next warm cycle picks it up.
	res, err = p.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Fetched)
	assert.Equal(t, model.ActionMerged, res.Outcomes[0].Action)

	res, err = p.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)

	alert, err := store.FindAlertByEventID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 3, alert.UpdateCount)
	assert.NotNil(t, alert.EndedAt)
	assert.Equal(t, 1, recent.Len())

	waiting, err := store.FetchWaiting(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}
