package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Slipstreamm/openguard/pkg/util"
)

func TestTrackerLatchFiresOncePerCrossing(t *testing.T) {
	assert := assert.New(t)
	tr := NewTracker(16, 64)
	horizon := 30 * time.Second
	threshold := 8

	fired := 0
	for i := 0; i < 11; i++ {
		obs := tr.Observe(1, t0.Add(time.Duration(i)*time.Second), horizon, threshold)
		if obs.Count >= threshold && obs.Armed {
			fired++
			tr.Latch(1)
		}
	}
	assert.Equal(1, fired)

	// window drains below threshold, then a new burst crosses again
	later := t0.Add(5 * time.Minute)
	for i := 0; i < threshold; i++ {
		obs := tr.Observe(1, later.Add(time.Duration(i)*time.Second), horizon, threshold)
		if obs.Count >= threshold && obs.Armed {
			fired++
			tr.Latch(1)
		}
	}
	assert.Equal(2, fired)
}

func TestTrackerCapBoundsMemory(t *testing.T) {
	tr := NewTracker(100, 8)
	for i := 0; i < 10000; i++ {
		tr.Observe(util.Snowflake(i+1), t0, time.Minute, 5)
	}
	assert.Equal(t, 100, tr.Len())
	assert.Equal(t, 9900, tr.Evictions())
}

func TestTrackerSweepEvictsIdle(t *testing.T) {
	assert := assert.New(t)
	tr := NewTracker(100, 8)
	horizon := 10 * time.Second

	tr.Observe(1, t0, horizon, 5)
	tr.Observe(2, t0.Add(5*time.Second), horizon, 5)
	tr.Observe(3, t0.Add(30*time.Second), horizon, 5)

	assert.Equal(2, tr.Sweep(t0.Add(31*time.Second)))
	assert.Equal(1, tr.Len())
	assert.Equal(0, tr.Sweep(t0.Add(31*time.Second)))
}

func TestTrackerContentDuplicates(t *testing.T) {
	assert := assert.New(t)
	tr := NewTracker(10, 8)
	horizon := 30 * time.Second

	assert.Equal(1, tr.ObserveContent(1, 0xabc, t0, horizon))
	assert.Equal(2, tr.ObserveContent(1, 0xabc, t0.Add(time.Second), horizon))
	assert.Equal(1, tr.ObserveContent(1, 0xdef, t0.Add(2*time.Second), horizon))
	assert.Equal(3, tr.ObserveContent(1, 0xabc, t0.Add(3*time.Second), horizon))
	// earlier copies aged out
	assert.Equal(1, tr.ObserveContent(1, 0xabc, t0.Add(2*time.Minute), horizon))
	// other users do not share history
	assert.Equal(1, tr.ObserveContent(2, 0xabc, t0.Add(3*time.Second), horizon))
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(10, 8)
	tr.Observe(1, t0, time.Minute, 5)
	tr.Observe(1, t0, time.Minute, 5)
	tr.Reset(1)
	assert.Equal(t, 1, tr.Observe(1, t0, time.Minute, 5).Count)
}

func TestGuildStateRaidUsesGuildSubject(t *testing.T) {
	g := NewGuildState(42, 10)
	for i := 0; i < 3; i++ {
		g.ObserveJoin(t0.Add(time.Duration(i)*time.Second), 30*time.Second, 8)
	}
	assert.Equal(t, 1, g.Raid.Len())
	assert.Equal(t, 4, g.ObserveJoin(t0.Add(3*time.Second), 30*time.Second, 8).Count)
}

func TestTrackerReachesThresholdAboveDefaultLimit(t *testing.T) {
	assert := assert.New(t)
	g := NewGuildState(42, 16)

	fired := 0
	maxCount := 0
	for i := 0; i < 400; i++ {
		obs := g.ObserveMessage(1, t0.Add(time.Duration(i)*time.Millisecond), 10*time.Second, 300)
		maxCount = max(maxCount, obs.Count)
		if obs.Count >= 300 && obs.Armed {
			fired++
			g.LatchSpam(1)
		}
	}
	assert.Equal(1, fired)
	assert.GreaterOrEqual(maxCount, 300)

	fired = 0
	for i := 0; i < 2500; i++ {
		obs := g.ObserveJoin(t0.Add(time.Duration(i)*time.Millisecond), time.Minute, 2000)
		if obs.Count >= 2000 && obs.Armed {
			fired++
			g.LatchRaid()
		}
	}
	assert.Equal(1, fired)
}
