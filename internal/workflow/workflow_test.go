package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore records calls and returns canned results.
type fakeStore struct {
	mu sync.Mutex

	lookups    []behavior.Identity
	records    []behavior.Record
	lookupErr  error
	behaviors  []behavior.FeedbackSubmission
	ratings    []behavior.RejoinRating
	writeErr   error
	lookupHook func(behavior.Identity)
}

func (f *fakeStore) Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, id)
	hook := f.lookupHook
	records, err := f.records, f.lookupErr
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	return records, err
}

func (f *fakeStore) SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.behaviors = append(f.behaviors, s)

	return f.writeErr
}

func (f *fakeStore) SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ratings = append(f.ratings, r)

	return f.writeErr
}

func (f *fakeStore) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.lookups)
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)

	return zap.New(core), logs
}

var errBoom = errors.New("boom")
