package metrics

import (
	"sync/atomic"
	"time"
)

// LoopHealth tracks the heartbeat of a long-running loop. A loop that has
// not beaten within its staleness bound is reported unhealthy.
type LoopHealth struct {
	name       string
	iterations atomic.Uint64
	lastBeat   atomic.Int64
	staleAfter time.Duration
}

func NewLoopHealth(name string, staleAfter time.Duration) *LoopHealth {
	return &LoopHealth{name: name, staleAfter: staleAfter}
}

func (lh *LoopHealth) Name() string {
	return lh.name
}

func (lh *LoopHealth) Beat() {
	lh.iterations.Add(1)
	lh.lastBeat.Store(time.Now().UnixNano())
}

func (lh *LoopHealth) Iterations() uint64 {
	return lh.iterations.Load()
}

func (lh *LoopHealth) LastBeat() time.Time {
	ns := lh.lastBeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsHealthy is true before the first beat, so a loop is not flagged while it
// is still starting.
func (lh *LoopHealth) IsHealthy() bool {
	last := lh.lastBeat.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) < lh.staleAfter
}
