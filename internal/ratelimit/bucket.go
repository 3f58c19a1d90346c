package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket holds up to capacity tokens and adds one every refill interval.
// Refill is computed lazily: lastRefill only moves when at least one whole
// token was added.
type TokenBucket struct {
	capacity       int
	tokens         int
	refillInterval time.Duration
	lastRefill     time.Time
	lastUsed       time.Time
	now            func() time.Time
	mu             sync.Mutex
}

// NewTokenBucket creates a full bucket whose capacity refills uniformly over
// window. A nil now uses time.Now.
func NewTokenBucket(capacity int, window time.Duration, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return newTokenBucket(capacity, window/time.Duration(capacity), now)
}

func newTokenBucket(capacity int, refillInterval time.Duration, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	if refillInterval <= 0 {
		refillInterval = time.Millisecond
	}
	currentTime := now()
	return &TokenBucket{
		capacity:       capacity,
		tokens:         capacity,
		refillInterval: refillInterval,
		lastRefill:     currentTime,
		lastUsed:       currentTime,
		now:            now,
	}
}

// TryAcquire consumes a token if one is available.
func (tokenBucket *TokenBucket) TryAcquire() bool {
	tokenBucket.mu.Lock()
	defer tokenBucket.mu.Unlock()

	currentTime := tokenBucket.now()
	tokenBucket.refill(currentTime)
	tokenBucket.lastUsed = currentTime

	if tokenBucket.tokens > 0 {
		tokenBucket.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is consumed or ctx is done. Waiters re-check
// after every refill interval; there is no queue and no fairness.
func (tokenBucket *TokenBucket) Acquire(ctx context.Context) error {
	for {
		if tokenBucket.TryAcquire() {
			return nil
		}

		timer := time.NewTimer(tokenBucket.refillInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the tokens that could be taken right now.
func (tokenBucket *TokenBucket) Available() int {
	tokenBucket.mu.Lock()
	defer tokenBucket.mu.Unlock()

	tokenBucket.refill(tokenBucket.now())
	return tokenBucket.tokens
}

func (tokenBucket *TokenBucket) Capacity() int {
	return tokenBucket.capacity
}

// WaitInterval is the time between two refilled tokens.
func (tokenBucket *TokenBucket) WaitInterval() time.Duration {
	return tokenBucket.refillInterval
}

func (tokenBucket *TokenBucket) idleSince() time.Time {
	tokenBucket.mu.Lock()
	defer tokenBucket.mu.Unlock()
	return tokenBucket.lastUsed
}

func (tokenBucket *TokenBucket) refill(currentTime time.Time) {
	if !currentTime.After(tokenBucket.lastRefill) {
		return
	}

	newTokens := int(currentTime.Sub(tokenBucket.lastRefill) / tokenBucket.refillInterval)
	if newTokens > 0 {
		tokenBucket.tokens = minimum(tokenBucket.capacity, tokenBucket.tokens+newTokens)
		tokenBucket.lastRefill = currentTime
	}
}

// minimum returns the minimum of two integers
func minimum(firstValue, secondValue int) int {
	if firstValue < secondValue {
		return firstValue
	}
	return secondValue
}
