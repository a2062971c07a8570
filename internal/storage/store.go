package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lizi/internal/config"
	"lizi/internal/model"
)

var (
	ErrAlertExists = errors.New("alert already exists for event")
	ErrStaleAlert  = errors.New("alert changed since it was read")
	ErrNotFound    = errors.New("not found")
)

type ReviewSource interface {
	// A nil since returns every waiting review.
	FetchWaiting(ctx context.Context, since *time.Time) ([]model.Review, error)
	MarkProcessed(ctx context.Context, review model.Review, status model.ReviewStatus, reasoning model.Reasoning) error
}

type ReviewWriter interface {
	InsertReview(ctx context.Context, review model.Review) error
}

type AlertStore interface {
	// FindAlertByEventID returns nil, nil when no alert exists.
	FindAlertByEventID(ctx context.Context, eventID string) (*model.Alert, error)
	InsertAlert(ctx context.Context, alert model.Alert) error
	UpdateAlert(ctx context.Context, alert model.Alert, prevUpdateCount int) error
}

type Store interface {
	ReviewSource
	ReviewWriter
	AlertStore
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func NewStore(cfg config.StorageConfig, loc *time.Location) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN, loc)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, loc)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
	// loc is the zone review created_at values are written in.
	loc        *time.Location
	rebind     func(string) string
	encodeTime func(time.Time) any
	encodeWall func(time.Time) any
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const reviewColumns = `id, review_id, camera, review_type, status, objects, zones, is_alert,
	snapshot_url, clip_url, reason, metadata, created_at`

func (b *baseStore) FetchWaiting(ctx context.Context, since *time.Time) ([]model.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE status = ?`
	args := []any{string(model.StatusWaiting)}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, b.sourceTime(*since))
	}
	query += ` ORDER BY created_at, id`
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query waiting reviews: %w", err)
	}
	defer rows.Close()
	var out []model.Review
	for rows.Next() {
		var (
			r                        model.Review
			reviewType, status       string
			snapshot, clip, reason   sql.NullString
			objects, zones, metadata jsonColumn
		)
		created := sourceTimeColumn{loc: b.loc}
		objects.dst = &r.Objects
		zones.dst = &r.Zones
		metadata.dst = &r.Metadata
		if err := rows.Scan(&r.ID, &r.ReviewID, &r.Camera, &reviewType, &status, &objects, &zones,
			&r.IsAlert, &snapshot, &clip, &reason, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.ReviewType = model.ReviewType(reviewType)
		r.Status = model.ReviewStatus(status)
		r.SnapshotURL = snapshot.String
		r.ClipURL = clip.String
		r.Reason = reason.String
		r.CreatedAt = created.t
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *baseStore) MarkProcessed(ctx context.Context, review model.Review, status model.ReviewStatus, reasoning model.Reasoning) error {
	var (
		res sql.Result
		err error
	)
	if review.ID != 0 {
		res, err = b.db.ExecContext(ctx, b.rebind(`UPDATE reviews SET status = ?, reasoning = ? WHERE id = ?`),
			string(status), encodeJSON(reasoning), review.ID)
	} else {
		res, err = b.db.ExecContext(ctx, b.rebind(`UPDATE reviews SET status = ?, reasoning = ? WHERE review_id = ? AND status = ?`),
			string(status), encodeJSON(reasoning), review.ReviewID, string(model.StatusWaiting))
	}
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("review %s: %w", review.ReviewID, ErrNotFound)
	}
	return nil
}

func (b *baseStore) InsertReview(ctx context.Context, r model.Review) error {
	status := r.Status
	if status == "" {
		status = model.StatusWaiting
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := b.db.ExecContext(ctx, b.rebind(`INSERT INTO reviews (review_id, camera, review_type, status, objects, zones,
		is_alert, snapshot_url, clip_url, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ReviewID,
		r.Camera,
		string(r.ReviewType),
		string(status),
		encodeJSON(nonNil(r.Objects)),
		encodeJSON(nonNil(r.Zones)),
		r.IsAlert,
		nullString(r.SnapshotURL),
		nullString(r.ClipURL),
		nullString(r.Reason),
		encodeJSON(r.Metadata),
		b.sourceTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

const alertColumns = `id, event_id, camera, label, zones, reason, confidence, frigate_categorization,
	full_review_payload, update_count, additional_objects, additional_zones, latest_review_type,
	latest_review_timestamp, created_at, updated_at, ended_at, triggered`

func (b *baseStore) FindAlertByEventID(ctx context.Context, eventID string) (*model.Alert, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(`SELECT `+alertColumns+` FROM alerts WHERE event_id = ?`), eventID)
	var (
		a                                   model.Alert
		label, latestType                   sql.NullString
		category                            string
		zones, payload, addObjects, addZone jsonColumn
		created                             timeColumn
		latestTS, updated, ended            timeColumn
	)
	zones.dst = &a.Zones
	payload.dst = &a.FullReviewPayload
	addObjects.dst = &a.AdditionalObjects
	addZone.dst = &a.AdditionalZones
	err := row.Scan(&a.ID, &a.EventID, &a.Camera, &label, &zones, &a.Reason, &a.Confidence, &category,
		&payload, &a.UpdateCount, &addObjects, &addZone, &latestType, &latestTS, &created, &updated, &ended, &a.Triggered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup alert %s: %w", eventID, err)
	}
	a.Label = label.String
	a.LatestReviewType = model.ReviewType(latestType.String)
	a.FrigateCategorization = model.Categorization(category)
	a.CreatedAt = created.t
	a.LatestReviewTimestamp = latestTS.ptr()
	a.UpdatedAt = updated.ptr()
	a.EndedAt = ended.ptr()
	return &a, nil
}

func (b *baseStore) InsertAlert(ctx context.Context, a model.Alert) error {
	var id string
	err := b.db.QueryRowContext(ctx, b.rebind(`INSERT INTO alerts (id, event_id, camera, label, zones, reason,
		confidence, frigate_categorization, full_review_payload, update_count, created_at, triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`),
		a.ID,
		a.EventID,
		a.Camera,
		nullString(a.Label),
		encodeJSON(nonNil(a.Zones)),
		a.Reason,
		a.Confidence,
		string(a.FrigateCategorization),
		encodeJSON(a.FullReviewPayload),
		a.UpdateCount,
		b.encodeTime(a.CreatedAt),
		a.Triggered,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", a.EventID, ErrAlertExists)
	}
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (b *baseStore) UpdateAlert(ctx context.Context, a model.Alert, prevUpdateCount int) error {
	res, err := b.db.ExecContext(ctx, b.rebind(`UPDATE alerts SET
		updated_at = ?, update_count = ?, full_review_payload = ?, latest_review_type = ?,
		latest_review_timestamp = ?, ended_at = ?, additional_objects = ?, additional_zones = ?
		WHERE id = ? AND update_count = ?`),
		b.encodeNullTime(a.UpdatedAt),
		a.UpdateCount,
		encodeJSON(a.FullReviewPayload),
		nullString(string(a.LatestReviewType)),
		b.encodeNullTime(a.LatestReviewTimestamp),
		b.encodeNullTime(a.EndedAt),
		encodeNullJSON(a.AdditionalObjects),
		encodeNullJSON(a.AdditionalZones),
		a.ID,
		prevUpdateCount,
	)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, ErrStaleAlert)
	}
	return nil
}

func (b *baseStore) sourceTime(t time.Time) any {
	return b.encodeWall(t.In(b.loc))
}

func (b *baseStore) encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return b.encodeTime(*t)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func encodeNullJSON[T any](values []T) any {
	if len(values) == 0 {
		return nil
	}
	return encodeJSON(values)
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
