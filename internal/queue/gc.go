package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const purgeTimeout = 2 * time.Minute

// GarbageCollector drops dead-lettered events once they are older than the
// retention window.
type GarbageCollector struct {
	purger    DLQPurger
	interval  time.Duration
	retention time.Duration
	onPurge   func(n int)
	log       *zap.Logger
}

// GCOption configures a GarbageCollector.
type GCOption func(*GarbageCollector)

// WithPurgeHook calls fn with the number of messages removed by each
// successful collection.
func WithPurgeHook(fn func(n int)) GCOption {
	return func(gc *GarbageCollector) { gc.onPurge = fn }
}

// NewGarbageCollector creates a collector. A nil purger makes every
// collection a no-op.
func NewGarbageCollector(purger DLQPurger, interval, retention time.Duration, log *zap.Logger, opts ...GCOption) *GarbageCollector {
	if log == nil {
		log = zap.NewNop()
	}
	gc := &GarbageCollector{
		purger:    purger,
		interval:  interval,
		retention: retention,
		log:       log,
	}
	for _, opt := range opts {
		opt(gc)
	}
	return gc
}

// Start collects every interval until ctx is cancelled, then returns ctx.Err().
func (gc *GarbageCollector) Start(ctx context.Context) error {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := gc.Collect(ctx); err != nil {
				gc.log.Warn("dlq_gc_failed", zap.Error(err))
			}
		}
	}
}

// Collect runs one purge and returns the number of messages removed.
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	if gc.purger == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	n, err := gc.purger.PurgeOlderThan(ctx, gc.retention)
	if err != nil {
		return 0, fmt.Errorf("DLQ purge: %w", err)
	}
	if gc.onPurge != nil {
		gc.onPurge(n)
	}
	if n > 0 {
		gc.log.Info("dlq_gc_purged", zap.Int("count", n), zap.Duration("retention", gc.retention))
	}
	return n, nil
}
