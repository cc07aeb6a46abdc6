// Package notify carries the "new feed data" signal between workers. The
// ingestor notifies after each durable append; predict and score loops wait
// on the signal instead of polling at full cadence.
package notify

import (
	"context"
	"time"
)

// Channel is the signal name shared by all processes.
const Channel = "new_feed_data"

// Notifier is the cross-worker signaling capability. Wait returns true when
// a notification arrived before the timeout, false on timeout. Notifications
// are coalesced: N signals while nobody waits wake one waiter once.
type Notifier interface {
	Notify(ctx context.Context) error
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}
