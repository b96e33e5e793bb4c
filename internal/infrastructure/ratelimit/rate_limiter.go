package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Actions with their own limits. Anything else falls back to the default.
const (
	ActionSendMessage = "send_message"
	ActionTyping      = "typing"
	ActionHTTP        = "http"
)

// Policy is a per-minute allowance with a burst of the same size.
type Policy struct {
	PerMinute int
}

func (p Policy) limiter() *rate.Limiter {
	perMinute := p.PerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	return &RateLimiter{
		policies: policies,
		fallback: Policy{PerMinute: 20},
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow consumes a token for key/action. When denied it also returns how long
// until the next token.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	now := rl.now()
	b := rl.bucketFor(key, action, now)

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

func (rl *RateLimiter) bucketFor(key, action string, now time.Time) *bucket {
	id := key + ":" + action

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b, exists := rl.buckets[id]
	if !exists {
		policy, ok := rl.policies[action]
		if !ok {
			policy = rl.fallback
		}
		b = &bucket{limiter: policy.limiter()}
		rl.buckets[id] = b
	}
	b.lastSeen = now
	return b
}

// Cleanup removes buckets that have not been used for idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for id, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}

// Run cleans up idle buckets every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Cleanup(time.Hour)
		}
	}
}
