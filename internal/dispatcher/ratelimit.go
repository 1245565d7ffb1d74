package dispatcher

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/beaconmesh/beacon/pkg/cmap"
)

// Default rate-limit shape: generous enough not to bother a well
// behaved client, tight enough to bound a runaway one.
const (
	DefaultRatePerSecond = 50.0
	DefaultBurst         = 100
	DefaultIdleEvictTTL  = 10 * time.Minute
	DefaultEvictInterval = time.Minute
)

type bucketEntry struct {
	limiter    *rate.Limiter
	lastUsedMs int64
}

// RateLimiter holds one token bucket per (connection_id, request_type)
// pair, created lazily on first use and evicted once idle.
type RateLimiter struct {
	buckets      *cmap.Map[string, *bucketEntry]
	ratePerSec   float64
	burst        int
	idleEvictTTL time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRateLimiter creates a rate limiter with the given per-bucket
// rate/burst. Zero values fall back to the package defaults.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		buckets:      cmap.New[string, *bucketEntry](),
		ratePerSec:   ratePerSec,
		burst:        burst,
		idleEvictTTL: DefaultIdleEvictTTL,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Allow reports whether a request for (connID, requestType) may
// proceed, consuming a token from its bucket if so.
func (r *RateLimiter) Allow(connID, requestType string) bool {
	key := connID + "|" + requestType
	entry, _ := r.buckets.GetOrSet(key, &bucketEntry{limiter: rate.NewLimiter(rate.Limit(r.ratePerSec), r.burst)})
	entry.lastUsedMs = time.Now().UnixMilli()
	return entry.limiter.Allow()
}

// Start runs the background idle-bucket eviction loop.
func (r *RateLimiter) Start() {
	go r.loop()
}

// Stop halts the eviction loop.
func (r *RateLimiter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *RateLimiter) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(DefaultEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCh:
			return
		}
	}
}

func (r *RateLimiter) evictIdle() {
	cutoff := time.Now().Add(-r.idleEvictTTL).UnixMilli()
	var stale []string
	r.buckets.Range(func(key string, entry *bucketEntry) bool {
		if entry.lastUsedMs < cutoff {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		r.buckets.Delete(key)
	}
}
