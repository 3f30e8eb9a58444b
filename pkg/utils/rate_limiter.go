// Package utils holds small shared helpers.
package utils

import (
	"fmt"
	"sync"
	"time"
)

// Limit describes a token-bucket rate limit: Capacity requests that refill
// evenly over the Refill window. Name keys the per-user buckets.
type Limit struct {
	Capacity int
	Refill   time.Duration
	Name     string
}

// PerMinute is a convenience constructor for an n-per-minute limit.
func PerMinute(n int, name string) Limit {
	return Limit{Capacity: n, Refill: time.Minute, Name: name}
}

// bucket tracks the remaining tokens for one user under one limit.
type bucket struct {
	capacity           int
	tokenCount         int
	refillTimePerToken time.Duration
	lastRefill         time.Time
}

// RateLimiter implements per-user token buckets.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket)}
}

// Allow reports whether userID may perform another request under limit,
// consuming one token when it may.
func (rl *RateLimiter) Allow(limit Limit, userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := fmt.Sprintf("%d:%s", userID, limit.Name)
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			capacity:           limit.Capacity,
			tokenCount:         limit.Capacity,
			refillTimePerToken: limit.Refill / time.Duration(limit.Capacity),
			lastRefill:         time.Now(),
		}
		rl.buckets[key] = b
	}

	return b.allow(time.Now())
}

func (b *bucket) allow(now time.Time) bool {
	b.refill(now)

	if b.tokenCount > 0 {
		b.tokenCount--
		return true
	}
	return false
}

// refill adds tokens for the time elapsed since the last refill, keeping
// any remainder so slow streams of requests do not lose refill credit.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.refillTimePerToken {
		return
	}

	added := int(elapsed / b.refillTimePerToken)
	b.tokenCount += added
	if b.tokenCount > b.capacity {
		b.tokenCount = b.capacity
	}

	unused := elapsed % b.refillTimePerToken
	b.lastRefill = now.Add(-unused)
}
