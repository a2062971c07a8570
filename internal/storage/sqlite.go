package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string, loc *time.Location) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:lizi.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if loc == nil {
		loc = time.UTC
	}
	return &sqliteStore{baseStore{
		db:         db,
		loc:        loc,
		rebind:     func(q string) string { return q },
		encodeTime: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
		encodeWall: func(t time.Time) any { return t.Format(sourceTimeLayout) },
	}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			review_id TEXT NOT NULL,
			camera TEXT NOT NULL,
			review_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			objects TEXT NOT NULL DEFAULT '[]',
			zones TEXT NOT NULL DEFAULT '[]',
			is_alert INTEGER NOT NULL DEFAULT 0,
			snapshot_url TEXT,
			clip_url TEXT,
			reason TEXT,
			metadata TEXT,
			reasoning TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_status_created ON reviews(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_review_id ON reviews(review_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			camera TEXT NOT NULL,
			label TEXT,
			zones TEXT NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			frigate_categorization TEXT NOT NULL,
			full_review_payload TEXT NOT NULL,
			update_count INTEGER NOT NULL DEFAULT 0,
			additional_objects TEXT,
			additional_zones TEXT,
			latest_review_type TEXT,
			latest_review_timestamp TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT,
			ended_at TEXT,
			triggered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered)`,
	})
}
