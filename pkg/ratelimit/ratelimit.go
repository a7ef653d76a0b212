package ratelimit

import (
	"sync"
	"time"
)

// Config defines token bucket parameters.
type Config struct {
	// Capacity is the maximum number of tokens the bucket holds.
	Capacity int
	// RefillPerSecond is the steady-state refill rate in tokens/second.
	RefillPerSecond float64
}

// DefaultConfig returns the default bucket used for upstream API calls.
func DefaultConfig() Config {
	return Config{Capacity: 10, RefillPerSecond: 5}
}

// Limiter is a single mutex-protected token bucket. Tokens refill
// continuously from elapsed wall time; each check is O(1).
type Limiter struct {
	config     Config
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewLimiter creates a full bucket with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.Capacity <= 0 {
		config = DefaultConfig()
	}
	return &Limiter{
		config:     config,
		tokens:     float64(config.Capacity),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TryAcquire takes one token if available. It never blocks.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Remaining returns the current whole-token count.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return int(l.tokens)
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.config.RefillPerSecond
	if l.tokens > float64(l.config.Capacity) {
		l.tokens = float64(l.config.Capacity)
	}
	l.lastRefill = now
}

// KeyedLimiter maintains one bucket per key (client IP for inbound search
// traffic). Idle buckets are dropped by Cleanup.
type KeyedLimiter struct {
	config  Config
	mu      sync.Mutex
	buckets map[string]*Limiter
	touched map[string]time.Time
}

// NewKeyedLimiter creates an empty per-key limiter set.
func NewKeyedLimiter(config Config) *KeyedLimiter {
	if config.Capacity <= 0 {
		config = DefaultConfig()
	}
	return &KeyedLimiter{
		config:  config,
		buckets: make(map[string]*Limiter),
		touched: make(map[string]time.Time),
	}
}

// TryAcquire takes one token from the bucket belonging to key.
func (k *KeyedLimiter) TryAcquire(key string) bool {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = NewLimiter(k.config)
		k.buckets[key] = b
	}
	k.touched[key] = time.Now()
	k.mu.Unlock()

	return b.TryAcquire()
}

// Cleanup removes buckets idle longer than maxIdle.
func (k *KeyedLimiter) Cleanup(maxIdle time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, last := range k.touched {
		if last.Before(cutoff) {
			delete(k.buckets, key)
			delete(k.touched, key)
		}
	}
}
