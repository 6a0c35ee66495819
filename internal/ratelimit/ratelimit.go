// Package ratelimit provides per-key token-bucket limiters for the
// orchestrator's API-key quota and the event ingestor's per-session
// throttle, built on golang.org/x/time/rate the way the teacher's
// transport middleware rate-limits inbound RPCs.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter lazily allocates one token bucket per key and never
// evicts them; callers are expected to bound the key space themselves
// (business IDs and user/session pairs are both naturally bounded by
// spec.md's tenancy model).
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New returns a KeyedLimiter allowing rps sustained requests per
// second with burst headroom, per key.
func New(rps float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request for key may proceed right now,
// consuming a token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.limiterFor(key).Allow()
}

func (k *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.limiters[key] = l
	}
	return l
}
