package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNotifierWakesWaiter(t *testing.T) {
	n := NewMemoryNotifier()
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx))
	notified, err := n.Wait(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, notified)
}

func TestMemoryNotifierTimeout(t *testing.T) {
	n := NewMemoryNotifier()

	notified, err := n.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, notified)
}

func TestMemoryNotifierCoalescesBursts(t *testing.T) {
	n := NewMemoryNotifier()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(ctx))
	}

	notified, _ := n.Wait(ctx, 10*time.Millisecond)
	assert.True(t, notified)

	// The burst collapsed into one wakeup.
	notified, _ = n.Wait(ctx, 10*time.Millisecond)
	assert.False(t, notified)
}

func TestMemoryNotifierContextCancel(t *testing.T) {
	n := NewMemoryNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Wait(ctx, time.Second)
	assert.Error(t, err)
}
