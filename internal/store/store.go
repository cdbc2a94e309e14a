/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store persists behavior and rejoin-rating records.
//
// Two backends are provided: Redis (including hosted, TLS-only Redis via
// rediss:// URLs) and SQLite. Both share the same key schema so lookups
// return identical record keys regardless of backend.
//
// Repeated behavior writes for the same player, run and behavior
// accumulate: the record value counts submissions, while the record
// itself still appears once per lookup. Rejoin ratings are last-write-wins.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrUnavailable wraps backend failures on reads and writes.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the persistence collaborator behind the API endpoints.
type Store interface {
	Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error)
	SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error
	SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by dsn. Supported forms are
// redis://, rediss://, sqlite://path and file:path.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return OpenRedis(ctx, dsn, logger)
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported store %q", dsn)
	}
}

func validateSubmission(s behavior.FeedbackSubmission) error {
	if strings.TrimSpace(s.Slug) == "" {
		return fmt.Errorf("%w: missing slug", ErrInvalidSubmission)
	}
	if strings.Contains(s.Slug, behavior.Delimiter) {
		return fmt.Errorf("%w: slug may not contain %q", ErrInvalidSubmission, behavior.Delimiter)
	}
	if _, err := behavior.ParseBehavior(s.Behavior); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	return nil
}

func validateRating(r behavior.RejoinRating) error {
	if strings.TrimSpace(r.Slug) == "" {
		return fmt.Errorf("%w: missing slug", ErrInvalidSubmission)
	}
	if strings.Contains(r.Slug, behavior.Delimiter) {
		return fmt.Errorf("%w: slug may not contain %q", ErrInvalidSubmission, behavior.Delimiter)
	}

	return nil
}
