package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSlidingWindowPrunes(t *testing.T) {
	assert := assert.New(t)
	w := NewSlidingWindow(100)
	horizon := 10 * time.Second

	for i := 0; i < 5; i++ {
		assert.Equal(i+1, w.Observe(t0.Add(time.Duration(i)*time.Second), horizon))
	}
	// t0 and t0+1s fall out of (t0+11s-10s, t0+11s]
	assert.Equal(4, w.Observe(t0.Add(11*time.Second), horizon))
	assert.Equal(0, w.Count(t0.Add(time.Minute), horizon))
}

func TestSlidingWindowBoundaryIsExclusive(t *testing.T) {
	w := NewSlidingWindow(10)
	w.Observe(t0, 10*time.Second)
	assert.Equal(t, 1, w.Observe(t0.Add(10*time.Second), 10*time.Second))
}

func TestSlidingWindowClampsOutOfOrder(t *testing.T) {
	assert := assert.New(t)
	w := NewSlidingWindow(10)
	w.Observe(t0.Add(5*time.Second), time.Minute)
	assert.Equal(2, w.Observe(t0, time.Minute))
	newest, ok := w.Newest()
	assert.True(ok)
	assert.Equal(t0.Add(5*time.Second), newest)
}

func TestSlidingWindowSaturatesAtLimit(t *testing.T) {
	w := NewSlidingWindow(4)
	var n int
	for i := 0; i < 50; i++ {
		n = w.Observe(t0.Add(time.Duration(i)*time.Millisecond), time.Hour)
	}
	assert.Equal(t, 4, n)
	assert.LessOrEqual(t, len(w.buf), 4)
}
