package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLoopHealth(t *testing.T) {
	lh := NewLoopHealth("sweeper", 50*time.Millisecond)
	assert.True(t, lh.IsHealthy())
	assert.True(t, lh.LastBeat().IsZero())

	lh.Beat()
	assert.True(t, lh.IsHealthy())
	assert.EqualValues(t, 1, lh.Iterations())

	lh.lastBeat.Store(time.Now().Add(-time.Second).UnixNano())
	assert.False(t, lh.IsHealthy())
}

func TestIngressRate(t *testing.T) {
	irc := NewIngressRateCounter()
	for i := 0; i < 10; i++ {
		irc.Increment()
	}
	assert.EqualValues(t, 10, irc.GetCount())
	assert.Greater(t, irc.GetRate(), 0.0)
	irc.Reset()
	assert.EqualValues(t, 0, irc.GetCount())
}

func TestCountersRegister(t *testing.T) {
	before := testutil.ToFloat64(Outcomes.WithLabelValues("ban", "expired"))
	Outcomes.WithLabelValues("ban", "expired").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Outcomes.WithLabelValues("ban", "expired")))
}
