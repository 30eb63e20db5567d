// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides token-bucket limiting of accepted switch
// connections, keyed by source address.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a bucket holding at most capacity tokens, refilled
// at refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token, reporting whether one was available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Available returns the current token count.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	added := int64(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if added <= 0 {
		return
	}
	tb.tokens += added
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Limiter rate-limits switch connections per source address. A switch that
// reconnects in a tight loop (or a fuzzer going off the rails) exhausts its
// own bucket without affecting other switches.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
	maxSources int
}

// NewLimiter creates a per-source limiter. Each new source gets its own
// bucket with the given capacity and refill rate. maxSources bounds the
// number of tracked sources; connections from sources beyond the bound are
// refused until Forget frees slots.
func NewLimiter(capacity, refillRate int64, maxSources int) *Limiter {
	if maxSources <= 0 {
		maxSources = 10000
	}
	return &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxSources: maxSources,
	}
}

// Allow reports whether a connection from the given source address should
// be accepted.
func (l *Limiter) Allow(source string) bool {
	l.mu.Lock()
	tb, ok := l.buckets[source]
	if !ok {
		if len(l.buckets) >= l.maxSources {
			l.mu.Unlock()
			return false
		}
		tb = NewTokenBucket(l.capacity, l.refillRate)
		l.buckets[source] = tb
	}
	l.mu.Unlock()

	return tb.Allow()
}

// Forget drops the bucket for a source, e.g. once its last session ends.
func (l *Limiter) Forget(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, source)
}

// Sources returns the number of tracked source addresses.
func (l *Limiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
