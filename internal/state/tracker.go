package state

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/Slipstreamm/openguard/pkg/util"
)

// Observation is the window state right after recording an event.
type Observation struct {
	Count int
	// Armed is false while the subject stays above threshold after an action
	// already fired for the current crossing.
	Armed bool
}

type subject struct {
	window         *SlidingWindow
	latched        bool
	lastSeen       time.Time
	rateHorizon    time.Duration
	contentHorizon time.Duration
	content        contentRing
}

// idleAfter is how long the subject may go unobserved before its state is
// meaningless.
func (s *subject) idleAfter() time.Duration {
	if s.contentHorizon > s.rateHorizon {
		return s.contentHorizon
	}
	return s.rateHorizon
}

// Tracker keeps one sliding window per subject. Subjects live in an LRU
// ordered by last observation; the least recently seen subject is evicted
// when the cap is reached and idle subjects are swept, so cycling through
// throwaway IDs cannot grow memory past the cap.
//
// A Tracker is owned by one guild worker and is not safe for concurrent use.
type Tracker struct {
	subjects    *simplelru.LRU[util.Snowflake, *subject]
	windowLimit int
	evictions   int
}

func NewTracker(maxSubjects, windowLimit int) *Tracker {
	t := &Tracker{windowLimit: windowLimit}
	lru, err := simplelru.NewLRU[util.Snowflake, *subject](maxSubjects, func(util.Snowflake, *subject) {
		t.evictions++
	})
	if err != nil {
		// only returned for a non-positive size
		lru, _ = simplelru.NewLRU[util.Snowflake, *subject](1, nil)
	}
	t.subjects = lru
	return t
}

// Observe records an event for id at time at and reports the window count
// against threshold. The subject's window is widened to threshold when the
// tracker's default limit is smaller.
func (t *Tracker) Observe(id util.Snowflake, at time.Time, horizon time.Duration, threshold int) Observation {
	s := t.get(id)
	s.window.EnsureLimit(threshold)
	s.rateHorizon = horizon
	s.lastSeen = at
	count := s.window.Observe(at, horizon)
	if count < threshold {
		s.latched = false
	}
	return Observation{Count: count, Armed: !s.latched}
}

// Latch marks the current crossing as acted upon. It is re-armed by the first
// observation that falls below threshold again.
func (t *Tracker) Latch(id util.Snowflake) {
	if s, ok := t.subjects.Peek(id); ok {
		s.latched = true
	}
}

// ObserveContent records a content fingerprint for id and returns how many
// times the same fingerprint was seen within horizon, including this one.
func (t *Tracker) ObserveContent(id util.Snowflake, fingerprint uint64, at time.Time, horizon time.Duration) int {
	s := t.get(id)
	s.contentHorizon = horizon
	s.lastSeen = at
	return s.content.observe(fingerprint, at, horizon)
}

func (t *Tracker) Reset(id util.Snowflake) {
	t.subjects.Remove(id)
}

// Sweep evicts subjects idle for longer than their horizon and returns how
// many were removed. The LRU is ordered by last observation, so the sweep
// stops at the first live subject.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for {
		_, s, ok := t.subjects.GetOldest()
		if !ok || now.Sub(s.lastSeen) <= s.idleAfter() {
			return removed
		}
		t.subjects.RemoveOldest()
		removed++
	}
}

func (t *Tracker) Len() int {
	return t.subjects.Len()
}

// Evictions counts subjects dropped by the cap, the sweep or Reset.
func (t *Tracker) Evictions() int {
	return t.evictions
}

func (t *Tracker) get(id util.Snowflake) *subject {
	if s, ok := t.subjects.Get(id); ok {
		return s
	}
	s := &subject{window: NewSlidingWindow(t.windowLimit)}
	t.subjects.Add(id, s)
	return s
}

const contentRingSize = 8

type contentEntry struct {
	fingerprint uint64
	at          time.Time
}

// contentRing remembers the last few message fingerprints of a subject.
type contentRing struct {
	entries [contentRingSize]contentEntry
	next    int
}

func (r *contentRing) observe(fp uint64, at time.Time, horizon time.Duration) int {
	cutoff := at.Add(-horizon)
	count := 1
	for _, e := range r.entries {
		if e.fingerprint == fp && !e.at.IsZero() && e.at.After(cutoff) {
			count++
		}
	}
	r.entries[r.next] = contentEntry{fingerprint: fp, at: at}
	r.next = (r.next + 1) % contentRingSize
	return count
}
