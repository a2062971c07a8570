package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string, loc *time.Location) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/lizi?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &postgresStore{baseStore{
		db:         db,
		loc:        loc,
		rebind:     rebindDollar,
		encodeTime: func(t time.Time) any { return t.UTC() },
		// pgx drops the zone but keeps the wall clock for TIMESTAMP columns.
		encodeWall: func(t time.Time) any { return t },
	}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS reviews (
			id BIGSERIAL PRIMARY KEY,
			review_id TEXT NOT NULL,
			camera TEXT NOT NULL,
			review_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			objects JSONB NOT NULL DEFAULT '[]',
			zones JSONB NOT NULL DEFAULT '[]',
			is_alert BOOLEAN NOT NULL DEFAULT FALSE,
			snapshot_url TEXT,
			clip_url TEXT,
			reason TEXT,
			metadata JSONB,
			reasoning JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_status_created ON reviews(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_review_id ON reviews(review_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			camera TEXT NOT NULL,
			label TEXT,
			zones JSONB NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			frigate_categorization TEXT NOT NULL,
			full_review_payload JSONB NOT NULL,
			update_count INTEGER NOT NULL DEFAULT 0,
			additional_objects JSONB,
			additional_zones JSONB,
			latest_review_type TEXT,
			latest_review_timestamp TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			triggered BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered)`,
	})
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
