/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

// Redis stores each behavior as a counter key and each rejoin rating as
// a plain string key.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func OpenRedis(ctx context.Context, url string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	r := NewRedis(opts, logger)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()

		return nil, err
	}

	return r, nil
}

func NewRedis(opts *redis.Options, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis{
		rdb:    redis.NewClient(opts),
		logger: logger,
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (r *Redis) SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error {
	if err := validateSubmission(s); err != nil {
		return err
	}

	key := BehaviorKey(s)
	if err := r.rdb.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: failed to write behavior to redis: %w", ErrUnavailable, err)
	}

	r.logger.Debug("saved behavior", zap.String("key", key))

	return nil
}

func (r *Redis) SaveRejoinRating(ctx context.Context, rating behavior.RejoinRating) error {
	if err := validateRating(rating); err != nil {
		return err
	}

	key := RejoinKey(rating)
	if err := r.rdb.Set(ctx, key, strconv.FormatBool(rating.Rating), 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write rejoin rating to redis: %w", ErrUnavailable, err)
	}

	r.logger.Debug("saved rejoin rating", zap.String("key", key))

	return nil
}

// Lookup scans every behavior key for the player. Keys are sorted since
// SCAN order is arbitrary.
func (r *Redis) Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error) {
	pattern := escapeGlob(PlayerPrefix(id)) + "*"

	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan redis: %w", ErrUnavailable, err)
	}

	records := make([]behavior.Record, 0, len(keys))
	if len(keys) == 0 {
		return records, nil
	}

	sort.Strings(keys)

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read behaviors from redis: %w", ErrUnavailable, err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired or deleted between SCAN and MGET.
			continue
		}

		records = append(records, behavior.Record{
			Key:   keys[i],
			Value: rawValue(s),
		})
	}

	return records, nil
}

func rawValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	quoted, _ := json.Marshal(s)

	return quoted
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
