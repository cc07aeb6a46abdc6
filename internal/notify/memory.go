package notify

import (
	"context"
	"time"
)

// MemoryNotifier is an in-process Notifier for single-process runs and tests.
type MemoryNotifier struct {
	signal chan struct{}
}

// NewMemoryNotifier creates an in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{signal: make(chan struct{}, 1)}
}

// Notify wakes one waiter. The one-slot buffer coalesces bursts.
func (n *MemoryNotifier) Notify(_ context.Context) error {
	select {
	case n.signal <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until a signal, the timeout, or ctx cancellation.
func (n *MemoryNotifier) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.signal:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var _ Notifier = (*MemoryNotifier)(nil)
