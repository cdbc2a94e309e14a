/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

const schema = `
CREATE TABLE IF NOT EXISTS behaviors (
	realm      TEXT NOT NULL,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL,
	behavior   TEXT NOT NULL,
	count      INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (realm, name, slug, behavior)
);
CREATE TABLE IF NOT EXISTS rejoin_ratings (
	realm      TEXT NOT NULL,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL,
	rating     INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (realm, name, slug)
);
`

// SQLite stores records in two tables keyed the same way as the Redis
// schema. Lookups are ordered by first insertion.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Serialize writers; sqlite rejects concurrent writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return nil
}

func (s *SQLite) SaveBehavior(ctx context.Context, sub behavior.FeedbackSubmission) error {
	if err := validateSubmission(sub); err != nil {
		return err
	}

	now := time.Now().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behaviors (realm, name, slug, behavior, count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (realm, name, slug, behavior)
		DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`,
		normalize(sub.Realm), normalize(sub.Name), sub.Slug, sub.Behavior, now, now)
	if err != nil {
		return fmt.Errorf("%w: failed to write behavior to sqlite: %w", ErrUnavailable, err)
	}

	s.logger.Debug("saved behavior", zap.String("key", BehaviorKey(sub)))

	return nil
}

func (s *SQLite) SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error {
	if err := validateRating(r); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rejoin_ratings (realm, name, slug, rating, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (realm, name, slug)
		DO UPDATE SET rating = excluded.rating, updated_at = excluded.updated_at`,
		normalize(r.Realm), normalize(r.Name), r.Slug, r.Rating, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: failed to write rejoin rating to sqlite: %w", ErrUnavailable, err)
	}

	s.logger.Debug("saved rejoin rating", zap.String("key", RejoinKey(r)))

	return nil
}

func (s *SQLite) Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, behavior, count FROM behaviors
		WHERE realm = ? AND name = ?
		ORDER BY rowid`,
		normalize(id.Realm), normalize(id.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query behaviors: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	records := make([]behavior.Record, 0)
	for rows.Next() {
		var sub behavior.FeedbackSubmission
		var count int64

		if err := rows.Scan(&sub.Slug, &sub.Behavior, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan behavior row: %w", ErrUnavailable, err)
		}
		sub.Name, sub.Realm = id.Name, id.Realm

		records = append(records, behavior.Record{
			Key:   BehaviorKey(sub),
			Value: []byte(strconv.FormatInt(count, 10)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read behaviors: %w", ErrUnavailable, err)
	}

	return records, nil
}
