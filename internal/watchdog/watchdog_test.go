package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/metrics"
)

func TestWatchdogTracksTransitions(t *testing.T) {
	lh := metrics.NewLoopHealth("test_loop", 30*time.Millisecond)
	w := NewWatchdog(5 * time.Millisecond)
	w.Register(lh)

	lh.Beat()
	w.check()
	assert.True(t, w.IsHealthy("test_loop"))

	time.Sleep(40 * time.Millisecond)
	w.check()
	assert.False(t, w.IsHealthy("test_loop"))
	assert.Equal(t, map[string]bool{"test_loop": false}, w.Status())

	lh.Beat()
	w.check()
	assert.True(t, w.IsHealthy("test_loop"))
}

func TestWatchdogRunStopsOnCancel(t *testing.T) {
	w := NewWatchdog(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
