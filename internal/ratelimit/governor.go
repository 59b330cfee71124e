// Package ratelimit admits chat turns per identity and against a shared daily budget.
//
// Each identity gets a sliding window of request timestamps. A single global
// counter guards the upstream budget and resets every 24 hours. Admit holds a
// pending reservation against both limits; Record turns it into a charge once
// the request is dispatched upstream and Release hands it back when the turn
// ends before that, so rejected or abandoned requests never consume quota.
//
// State lives in process memory and is not shared between instances.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scope names which limit rejected a request.
type Scope string

const (
	ScopeIdentity Scope = "identity"
	ScopeGlobal   Scope = "global"
)

// GlobalWindow is the fixed reset interval of the daily cap.
const GlobalWindow = 24 * time.Hour

// Config defines the rate limiting thresholds.
type Config struct {
	PerIdentity    int           // Max requests per identity within Window
	Window         time.Duration // Sliding window length (default 60s)
	GlobalDailyCap int           // Max requests across all identities per 24h
}

// Decision is the outcome of Admit.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Scope      Scope
}

type bucket struct {
	mu      sync.Mutex
	stamps  []time.Time // oldest first
	pending int         // admitted, not yet recorded or released
	evicted bool        // removed by Sweep; callers must look up again
}

// Governor enforces the per-identity and global limits.
type Governor struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket

	// Lock order: globalMu, then mu, then a bucket's mu.
	globalMu      sync.Mutex
	globalCount   int
	globalPending int
	resetAt       time.Time

	logger *slog.Logger
}

type Option func(*Governor)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

func NewGovernor(cfg Config, opts ...Option) *Governor {
	if cfg.PerIdentity <= 0 {
		cfg.PerIdentity = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.GlobalDailyCap <= 0 {
		cfg.GlobalDailyCap = 5000
	}

	g := &Governor{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.resetAt = g.now().Add(GlobalWindow)
	return g
}

// Admit checks whether identity may dispatch a request now and, if so,
// reserves one slot in both limits. Every allowed Decision must be followed
// by exactly one Record or Release. The global cap is evaluated first so the
// shared upstream budget is protected before any individual quota.
func (g *Governor) Admit(identity string) Decision {
	now := g.now()

	g.globalMu.Lock()
	defer g.globalMu.Unlock()

	g.rollGlobal(now)
	if g.globalCount+g.globalPending >= g.cfg.GlobalDailyCap {
		retryAfter := g.resetAt.Sub(now)
		g.logger.Warn("[RateLimit] global daily cap reached", "identity", identity, "retry_after", retryAfter)
		return Decision{Allowed: false, RetryAfter: retryAfter, Scope: ScopeGlobal}
	}

	b := g.lockBucket(identity)
	defer b.mu.Unlock()

	b.prune(now, g.cfg.Window)
	if used := len(b.stamps) + b.pending; used >= g.cfg.PerIdentity {
		retryAfter := b.retryAfter(now, g.cfg.Window, used-g.cfg.PerIdentity+1)
		g.logger.Warn("[RateLimit] identity limit exceeded",
			"identity", identity, "count", len(b.stamps), "pending", b.pending,
			"limit", g.cfg.PerIdentity, "retry_after", retryAfter)
		return Decision{Allowed: false, RetryAfter: retryAfter, Scope: ScopeIdentity}
	}

	b.pending++
	g.globalPending++
	return Decision{Allowed: true}
}

// Record charges one unit to identity and the global counter, consuming the
// reservation taken by Admit. It is called once the request has been
// dispatched upstream. Without a reservation the bucket is still never grown
// past the per-identity limit, and Record reports false.
func (g *Governor) Record(identity string) bool {
	now := g.now()

	g.globalMu.Lock()
	g.rollGlobal(now)
	if g.globalPending > 0 {
		g.globalPending--
	}
	g.globalCount++
	g.globalMu.Unlock()

	b := g.lockBucket(identity)
	defer b.mu.Unlock()

	if b.pending > 0 {
		b.pending--
	}
	b.prune(now, g.cfg.Window)
	if len(b.stamps) >= g.cfg.PerIdentity {
		return false
	}
	b.stamps = append(b.stamps, now)
	return true
}

// Release returns a reservation for a turn that ended before dispatch.
func (g *Governor) Release(identity string) {
	g.globalMu.Lock()
	if g.globalPending > 0 {
		g.globalPending--
	}
	g.globalMu.Unlock()

	b := g.lockBucket(identity)
	if b.pending > 0 {
		b.pending--
	}
	b.mu.Unlock()
}

// rollGlobal resets the counter once the 24h boundary has passed.
// Outstanding reservations carry over. Caller holds globalMu.
func (g *Governor) rollGlobal(now time.Time) {
	if now.Before(g.resetAt) {
		return
	}
	g.globalCount = 0
	g.resetAt = now.Add(GlobalWindow)
}

// lockBucket returns identity's live bucket with its mutex held.
func (g *Governor) lockBucket(identity string) *bucket {
	for {
		b := g.bucket(identity)
		b.mu.Lock()
		if !b.evicted {
			return b
		}
		b.mu.Unlock()
	}
}

func (g *Governor) bucket(identity string) *bucket {
	g.mu.RLock()
	b, ok := g.buckets[identity]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.buckets[identity]; ok {
		return b
	}
	b = &bucket{}
	g.buckets[identity] = b
	return b
}

// prune drops timestamps that have left the window. Caller holds b.mu.
func (b *bucket) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// retryAfter is the wait until n slots free up. Pending reservations are
// charged no earlier than now, so when stamps alone cannot free n slots the
// full window is reported. Caller holds b.mu.
func (b *bucket) retryAfter(now time.Time, window time.Duration, n int) time.Duration {
	if n > len(b.stamps) {
		return window
	}
	d := b.stamps[n-1].Add(window).Sub(now)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// Run evicts idle identity buckets every interval until ctx is done.
func (g *Governor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// Sweep removes buckets whose timestamps have all expired and that hold no
// reservation.
func (g *Governor) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for identity, b := range g.buckets {
		b.mu.Lock()
		b.prune(now, g.cfg.Window)
		if len(b.stamps) == 0 && b.pending == 0 {
			b.evicted = true
			delete(g.buckets, identity)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// Stats returns current governor statistics.
func (g *Governor) Stats() map[string]interface{} {
	g.mu.RLock()
	identities := len(g.buckets)
	g.mu.RUnlock()

	g.globalMu.Lock()
	defer g.globalMu.Unlock()

	return map[string]interface{}{
		"active_identities": identities,
		"per_identity":      g.cfg.PerIdentity,
		"window_seconds":    int(g.cfg.Window / time.Second),
		"global_daily_cap":  g.cfg.GlobalDailyCap,
		"global_count":      g.globalCount,
		"global_pending":    g.globalPending,
		"global_reset_at":   g.resetAt.UTC().Format(time.RFC3339),
	}
}
