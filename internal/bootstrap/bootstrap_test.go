package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/dispatcher"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Logging.Path = ""
	cfg.Logging.DecisionPath = ""
	cfg.API.Bind = "127.0.0.1:0"
	return cfg
}

func TestWireWithoutGateway(t *testing.T) {
	b := New(testConfig())
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { Shutdown(b.Components) })

	c := b.Components
	assert.Nil(t, c.Bot)
	assert.Nil(t, c.Notifier)
	assert.IsType(t, &dispatcher.MemoryTokenStore{}, c.Tokens)
	assert.Len(t, c.Watchdog.Status(), 3)

	p, err := c.Policies.Install(context.Background(), 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, p.GuildID)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := New(testConfig())
	require.NoError(t, b.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	assert.Error(t, New(testConfig()).Run(context.Background()))
}

func TestBadRedisURLFailsWiring(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "not a url"
	b := New(cfg)
	err := b.Initialize(context.Background())
	Shutdown(b.Components)
	assert.Error(t, err)
}
