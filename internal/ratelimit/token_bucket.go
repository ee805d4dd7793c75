package ratelimit

import (
	"math"
	"sync"
	"time"
)

// One token is held as 1e9 nano-tokens, so a fill rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond and no float rounding is
// involved.
const nanoPerToken = int64(time.Second)

// TokenBucket limits inbound signaling messages per connection.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket holding capacity tokens that refills at
// rate tokens per second. A nil clock uses wall time.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	c := toNano(capacity)
	return &TokenBucket{
		clock:     clock,
		capacity:  c,
		rate:      max(rate, 0),
		available: c,
		last:      clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock stepping backwards only moves the reference point.
	if elapsed <= 0 || b.rate == 0 || b.available >= b.capacity {
		return
	}

	missing := b.capacity - b.available
	if elapsed >= missing/b.rate {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > math.MaxInt64/nanoPerToken {
		return math.MaxInt64
	}
	return tokens * nanoPerToken
}
