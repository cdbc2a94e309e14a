/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Tasks runs best-effort background writes. Failures are logged and
// otherwise dropped; callers never see them.
type Tasks struct {
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewTasks(logger *zap.Logger) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tasks{logger: logger}
}

// Go starts fn in its own goroutine. The context handed to fn keeps the
// values of ctx but is never cancelled with it, so a write outlives the
// request that triggered it.
func (t *Tasks) Go(ctx context.Context, name string, fn func(context.Context) error, fields ...zap.Field) {
	ctx = context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		if err := fn(ctx); err != nil {
			t.logger.Error("background write failed",
				append([]zap.Field{zap.String("task", name), zap.Error(err)}, fields...)...)

			return
		}

		t.logger.Debug("background write succeeded",
			append([]zap.Field{zap.String("task", name)}, fields...)...)
	}()
}

// Wait blocks until every started task has finished.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// WaitContext is Wait bounded by ctx, for use during shutdown.
func (t *Tasks) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
