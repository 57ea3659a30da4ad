// Package ratelimit throttles calls to the run-management API with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default client-side budget for JSON API calls. Sample creation for a full
// flow cell issues one call per sample, so the burst covers a typical sheet.
const (
	APIRatePerSec     = 5.0
	APIBurstCapacity  = 100.0
	longWaitThreshold = 2 * time.Second
	warnEvery         = 10 * time.Second
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       float64
	maxTokens    float64
	refillRate   float64
	lastRefill   time.Time
	lastWarnTime time.Time
	now          func() time.Time
}

// NewRateLimiter creates a limiter refilling at tokensPerSecond and
// holding at most burstSize tokens. The bucket starts full.
func NewRateLimiter(tokensPerSecond, burstSize float64) *RateLimiter {
	rl := &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		now:        time.Now,
	}
	rl.lastRefill = rl.now()
	return rl
}

// NewAPIRateLimiter returns the limiter used for JSON API calls.
func NewAPIRateLimiter() *RateLimiter {
	return NewRateLimiter(APIRatePerSec, APIBurstCapacity)
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		if wait > longWaitThreshold {
			rl.warn(wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is free.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1.0 {
		rl.tokens--
		return 0
	}
	needed := 1.0 - rl.tokens
	return time.Duration(needed / rl.refillRate * float64(time.Second))
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

func (rl *RateLimiter) warn(wait time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.now().Sub(rl.lastWarnTime) < warnEvery {
		return
	}
	rl.lastWarnTime = rl.now()
	log.Warn().Dur("wait", wait).Msg("Rate limited, waiting for API capacity")
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}
