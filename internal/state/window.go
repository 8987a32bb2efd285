package state

import "time"

// SlidingWindow is a monotonic queue of observation times. Entries at or
// before now-horizon are pruned on every observation, so each timestamp is
// pushed and popped once.
type SlidingWindow struct {
	buf   []time.Time
	head  int
	size  int
	limit int
}

// NewSlidingWindow keeps at most limit timestamps. Once full, the oldest
// entry is dropped, so the count saturates at limit.
func NewSlidingWindow(limit int) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	initial := limit
	if initial > 16 {
		initial = 16
	}
	return &SlidingWindow{buf: make([]time.Time, initial), limit: limit}
}

// Observe records t and returns the number of observations within the
// trailing horizon ending at t. Timestamps older than the newest entry are
// clamped to it to keep the queue monotonic.
func (w *SlidingWindow) Observe(t time.Time, horizon time.Duration) int {
	if w.size > 0 {
		if last := w.at(w.size - 1); t.Before(last) {
			t = last
		}
	}
	w.prune(t, horizon)
	if w.size == w.limit {
		w.popFront()
	}
	w.push(t)
	return w.size
}

// EnsureLimit raises the cap to at least n so a count of n stays reachable.
func (w *SlidingWindow) EnsureLimit(n int) {
	if n > w.limit {
		w.limit = n
	}
}

func (w *SlidingWindow) Limit() int {
	return w.limit
}

// Count prunes against now without recording anything.
func (w *SlidingWindow) Count(now time.Time, horizon time.Duration) int {
	w.prune(now, horizon)
	return w.size
}

func (w *SlidingWindow) Newest() (time.Time, bool) {
	if w.size == 0 {
		return time.Time{}, false
	}
	return w.at(w.size - 1), true
}

func (w *SlidingWindow) Reset() {
	w.head = 0
	w.size = 0
}

func (w *SlidingWindow) prune(now time.Time, horizon time.Duration) {
	cutoff := now.Add(-horizon)
	for w.size > 0 && !w.at(0).After(cutoff) {
		w.popFront()
	}
}

func (w *SlidingWindow) at(i int) time.Time {
	return w.buf[(w.head+i)%len(w.buf)]
}

func (w *SlidingWindow) popFront() {
	w.buf[w.head] = time.Time{}
	w.head = (w.head + 1) % len(w.buf)
	w.size--
}

func (w *SlidingWindow) push(t time.Time) {
	if w.size == len(w.buf) {
		w.grow()
	}
	w.buf[(w.head+w.size)%len(w.buf)] = t
	w.size++
}

func (w *SlidingWindow) grow() {
	n := len(w.buf) * 2
	if n > w.limit {
		n = w.limit
	}
	nb := make([]time.Time, n)
	for i := 0; i < w.size; i++ {
		nb[i] = w.at(i)
	}
	w.buf = nb
	w.head = 0
}
