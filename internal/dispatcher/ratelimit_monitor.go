package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type RateLimitBucket struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimitMonitor tracks per-route buckets reported by the platform and a
// process-wide request budget.
type RateLimitMonitor struct {
	mu      sync.RWMutex
	buckets map[string]*RateLimitBucket
	global  *rate.Limiter
	blocked time.Time // global 429 lockout
	now     func() time.Time
}

// NewRateLimitMonitor caps outbound calls at perSecond. Zero disables the
// process-wide cap.
func NewRateLimitMonitor(perSecond float64) *RateLimitMonitor {
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimitMonitor{
		buckets: make(map[string]*RateLimitBucket),
		global:  rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

func bucketKey(route string, major util.Snowflake) string {
	return route + ":" + major.String()
}

// Wait blocks until a request on the route may be sent.
func (rlm *RateLimitMonitor) Wait(ctx context.Context, route string, major util.Snowflake) error {
	for {
		wait := rlm.delay(bucketKey(route, major))
		if wait <= 0 {
			break
		}
		metrics.RateLimitHits.WithLabelValues(route).Inc()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return rlm.global.Wait(ctx)
}

func (rlm *RateLimitMonitor) delay(key string) time.Duration {
	now := rlm.now()
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	if now.Before(rlm.blocked) {
		return rlm.blocked.Sub(now)
	}
	bucket, ok := rlm.buckets[key]
	if !ok || bucket.Remaining > 0 || !now.Before(bucket.ResetAt) {
		return 0
	}
	return bucket.ResetAt.Sub(now)
}

// Update records the bucket headers of a response. A 429 with the global
// flag blocks every route for retryAfter.
func (rlm *RateLimitMonitor) Update(resp *fasthttp.Response, route string, major util.Snowflake, retryAfter time.Duration) {
	now := rlm.now()
	bucket := &RateLimitBucket{Remaining: 1}

	if v := resp.Header.Peek("X-RateLimit-Remaining"); len(v) > 0 {
		bucket.Remaining, _ = strconv.Atoi(string(v))
	}
	if v := resp.Header.Peek("X-RateLimit-Limit"); len(v) > 0 {
		bucket.Limit, _ = strconv.Atoi(string(v))
	}
	if v := resp.Header.Peek("X-RateLimit-Reset-After"); len(v) > 0 {
		secs, _ := strconv.ParseFloat(string(v), 64)
		bucket.ResetAt = now.Add(time.Duration(secs * float64(time.Second)))
	} else if v := resp.Header.Peek("X-RateLimit-Reset"); len(v) > 0 {
		secs, _ := strconv.ParseFloat(string(v), 64)
		bucket.ResetAt = time.Unix(0, int64(secs*float64(time.Second)))
	}

	rlm.mu.Lock()
	defer rlm.mu.Unlock()

	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		bucket.Remaining = 0
		if retryAfter > 0 {
			bucket.ResetAt = now.Add(retryAfter)
		}
		if len(resp.Header.Peek("X-RateLimit-Global")) > 0 {
			rlm.blocked = now.Add(retryAfter)
		}
	}
	rlm.buckets[bucketKey(route, major)] = bucket
}

func (rlm *RateLimitMonitor) GetBucket(route string, major util.Snowflake) *RateLimitBucket {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	b, ok := rlm.buckets[bucketKey(route, major)]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}
