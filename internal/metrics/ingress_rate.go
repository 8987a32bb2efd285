package metrics

import (
	"sync/atomic"
	"time"
)

// IngressRateCounter reports the average event rate since start or the
// last reset, for the health endpoint.
type IngressRateCounter struct {
	eventsProcessed atomic.Uint64
	startTime       atomic.Int64
}

func NewIngressRateCounter() *IngressRateCounter {
	irc := &IngressRateCounter{}
	irc.startTime.Store(time.Now().UnixNano())
	return irc
}

func (irc *IngressRateCounter) Increment() {
	irc.eventsProcessed.Add(1)
}

func (irc *IngressRateCounter) GetRate() float64 {
	events := irc.eventsProcessed.Load()
	elapsed := time.Now().UnixNano() - irc.startTime.Load()

	if elapsed <= 0 {
		return 0
	}

	return float64(events) / (float64(elapsed) / 1e9)
}

func (irc *IngressRateCounter) GetCount() uint64 {
	return irc.eventsProcessed.Load()
}

func (irc *IngressRateCounter) Reset() {
	irc.eventsProcessed.Store(0)
	irc.startTime.Store(time.Now().UnixNano())
}
