// Package ratelimit bounds credential exchanges per principal: a token
// bucket for request rate and a semaphore for concurrent exchanges. State is
// in-memory and per process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	// MaxConcurrentRequests bounds in-flight credential exchanges per principal.
	MaxConcurrentRequests int

	// Bounds for the principal map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	bucket   *rate.Limiter // nil when rate limiting is off
	sem      chan struct{} // nil when concurrency is unbounded
	lastSeen atomic.Int64  // unix nanos
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*entry),
	}
}

func PrincipalKeyFromAPIKey(apiKey string) string {
	return "k_" + digest(apiKey)
}

// PrincipalKeyFromIP buckets anonymous callers by client address. Raw
// addresses are never used as map keys so they cannot end up in dumps.
func PrincipalKeyFromIP(ip string) string {
	return "ip_" + digest(ip)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// Permit holds one concurrency slot until released. Release is idempotent.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed bool
	// RetryAfter is in whole seconds, at least 1 when denied.
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest charges one request to principal. A denied request
// consumes nothing.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	e := l.entryFor(principal, now)
	e.lastSeen.Store(now.UnixNano())

	var charged *rate.Reservation
	if e.bucket != nil {
		r := e.bucket.ReserveN(now, 1)
		if !r.OK() {
			return Decision{RetryAfter: 1}
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return Decision{RetryAfter: retrySeconds(delay)}
		}
		charged = r
	}

	if e.sem == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	select {
	case e.sem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-e.sem }},
		}
	default:
		if charged != nil {
			charged.CancelAt(now)
		}
		return Decision{RetryAfter: 1}
	}
}

// Len reports how many principals are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) entryFor(principal string, now time.Time) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.m[principal]; ok {
		return e
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}

	e := &entry{}
	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		e.bucket = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
	}
	if l.cfg.MaxConcurrentRequests > 0 {
		e.sem = make(chan struct{}, l.cfg.MaxConcurrentRequests)
	}
	e.lastSeen.Store(now.UnixNano())
	l.m[principal] = e
	return e
}

// evictLocked drops idle entries, then the least recently seen one if the
// map is still full. Entries holding permits are skipped while others remain.
func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.EntryTTL).UnixNano()
	for k, e := range l.m {
		if e.lastSeen.Load() < cutoff && len(e.sem) == 0 {
			delete(l.m, k)
		}
	}
	if len(l.m) < l.cfg.MaxEntries {
		return
	}

	oldestKey, oldest := "", int64(math.MaxInt64)
	for k, e := range l.m {
		if seen := e.lastSeen.Load(); seen < oldest && len(e.sem) == 0 {
			oldestKey, oldest = k, seen
		}
	}
	if oldestKey == "" {
		for k := range l.m {
			oldestKey = k
			break
		}
	}
	delete(l.m, oldestKey)
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
