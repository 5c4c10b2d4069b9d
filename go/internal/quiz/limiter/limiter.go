// Package limiter implements the per-actor admission gate that shields a room
// coordinator from request floods. Each actor key owns a token bucket with a
// fixed capacity and fill rate; buckets refill lazily on each Admit call from
// a monotonic clock, so concurrent wall-clock skew between callers can never
// double-refill a bucket.
package limiter

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds the bucket parameters for one limiter instance.
type Config struct {
	// Capacity is the burst size: the maximum token balance of a bucket.
	Capacity float64 `yaml:"capacity"`
	// FillRate is the refill speed in tokens per second.
	FillRate float64 `yaml:"fill_rate"`
	// IdleFactor controls lazy pruning: a bucket untouched for
	// IdleFactor times its full refill window is discarded.
	IdleFactor int `yaml:"idle_factor"`
}

// DefaultConfig returns bucket parameters suitable for ordinary game actions.
func DefaultConfig() Config {
	return Config{
		Capacity:   10,
		FillRate:   5,
		IdleFactor: 4,
	}
}

// Decision is the result of one Admit call. A denied decision carries the
// minimal wait until the bucket would hold enough tokens for the same weight.
type Decision struct {
	Permit     bool
	RetryAfter time.Duration
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter owns one bucket per actor key. Admit never blocks; denial is
// immediately observable and re-triable.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clock   clockwork.Clock
	buckets map[string]*bucket

	lastPrune time.Time
}

// New creates a limiter. A nil clock defaults to the real clock.
func New(cfg Config, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.IdleFactor <= 0 {
		cfg.IdleFactor = DefaultConfig().IdleFactor
	}
	return &Limiter{
		cfg:       cfg,
		clock:     clock,
		buckets:   make(map[string]*bucket),
		lastPrune: clock.Now(),
	}
}

// Admit advances the actor's bucket to now, then either deducts weight tokens
// and permits, or denies with the wait until weight tokens would be available.
func (l *Limiter) Admit(actorKey string, weight int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.maybePrune(now)

	b, ok := l.buckets[actorKey]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, last: now}
		l.buckets[actorKey] = b
	}
	l.refill(b, now)

	w := float64(weight)
	if b.tokens >= w {
		b.tokens -= w
		return Decision{Permit: true}
	}
	// Denied. A weight above capacity can never be admitted, but the wait
	// reported for it is still finite so callers get a retry hint.
	return Decision{Permit: false, RetryAfter: l.waitFor(b, w)}
}

// Size returns the number of live buckets, for stats endpoints.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(l.cfg.Capacity, b.tokens+elapsed.Seconds()*l.cfg.FillRate)
	b.last = now
}

func (l *Limiter) waitFor(b *bucket, want float64) time.Duration {
	missing := want - b.tokens
	if missing <= 0 {
		return 0
	}
	secs := missing / l.cfg.FillRate
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

// idleTTL is the age past which an untouched bucket is garbage.
func (l *Limiter) idleTTL() time.Duration {
	window := l.cfg.Capacity / l.cfg.FillRate
	return time.Duration(float64(l.cfg.IdleFactor) * window * float64(time.Second))
}

// maybePrune drops idle buckets. Pruning is lazy: it piggybacks on Admit and
// runs at most once per TTL window, so no background goroutine is needed.
func (l *Limiter) maybePrune(now time.Time) {
	ttl := l.idleTTL()
	if now.Sub(l.lastPrune) < ttl {
		return
	}
	l.lastPrune = now
	for key, b := range l.buckets {
		if now.Sub(b.last) >= ttl {
			delete(l.buckets, key)
		}
	}
}
