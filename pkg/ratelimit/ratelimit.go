// Package ratelimit admits or rejects commands per client using a
// sliding-window log. Clients that keep sending after rejection are
// placed in a cool-off block.
package ratelimit

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config tunes the limiter. The window is a hard quota: at most
// RequestsPerWindow admissions whose age is below Window.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	// RejectThreshold rejects within RejectHorizon place the client
	// in a cool-off block for CoolOff.
	RejectThreshold int
	RejectHorizon   time.Duration
	CoolOff         time.Duration
	// IdleEviction drops per-client state untouched for this long.
	IdleEviction    time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the production limiter settings.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		RejectThreshold:   10,
		RejectHorizon:     time.Minute,
		CoolOff:           time.Minute,
		IdleEviction:      5 * time.Minute,
		CleanupInterval:   time.Minute,
	}
}

// WithQuota overrides the admission quota.
func (c *Config) WithQuota(n int, window time.Duration) *Config {
	c.RequestsPerWindow = n
	c.Window = window
	return c
}

// WithCoolOff overrides the reject-streak blocking rule.
func (c *Config) WithCoolOff(threshold int, horizon, coolOff time.Duration) *Config {
	c.RejectThreshold = threshold
	c.RejectHorizon = horizon
	c.CoolOff = coolOff
	return c
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	// Allowed reports whether the command may proceed.
	Allowed bool
	// Blocked reports that the client is in a cool-off block, not
	// merely over quota.
	Blocked bool
	// RetryAfter is how long the client should wait before the next
	// attempt can succeed. Zero when Allowed.
	RetryAfter time.Duration
}

// Stats is a snapshot for the stats endpoint.
type Stats struct {
	TrackedClients int    `json:"tracked_clients"`
	BlockedClients int    `json:"blocked_clients"`
	Admitted       uint64 `json:"admitted"`
	Rejected       uint64 `json:"rejected"`
}

type clientWindow struct {
	admissions   []time.Time
	rejects      []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter tracks one sliding-window log per client identifier.
// Memory per client is bounded by the quota and the reject
// threshold. Safe for concurrent use.
type Limiter struct {
	cfg *Config
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	clients map[string]*clientWindow

	admitted atomic.Uint64
	rejected atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a Limiter and starts its idle-entry cleanup loop.
// Call Close to stop it.
func New(cfg *Config, log *slog.Logger) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Limiter{
		cfg:     cfg,
		log:     log.With("component", "ratelimit"),
		now:     time.Now,
		clients: make(map[string]*clientWindow),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow records one admission attempt for clientID and decides it.
func (l *Limiter) Allow(clientID string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cw := l.clients[clientID]
	if cw == nil {
		cw = &clientWindow{}
		l.clients[clientID] = cw
	}
	cw.lastSeen = now

	if cw.blockedUntil.After(now) {
		l.rejected.Add(1)
		return Decision{Blocked: true, RetryAfter: cw.blockedUntil.Sub(now)}
	}

	cw.admissions = prune(cw.admissions, now.Add(-l.cfg.Window))
	if len(cw.admissions) < l.cfg.RequestsPerWindow {
		cw.admissions = append(cw.admissions, now)
		l.admitted.Add(1)
		return Decision{Allowed: true}
	}

	l.rejected.Add(1)
	cw.rejects = prune(cw.rejects, now.Add(-l.cfg.RejectHorizon))
	cw.rejects = append(cw.rejects, now)
	if len(cw.rejects) >= l.cfg.RejectThreshold {
		cw.blockedUntil = now.Add(l.cfg.CoolOff)
		cw.rejects = cw.rejects[:0]
		l.log.Warn("client placed in cool-off",
			"client_id", clientID,
			"cool_off", l.cfg.CoolOff)
		return Decision{Blocked: true, RetryAfter: l.cfg.CoolOff}
	}

	// The oldest admission leaving the window frees one slot.
	retry := cw.admissions[0].Add(l.cfg.Window).Sub(now)
	return Decision{RetryAfter: retry}
}

// Forget drops all state for clientID. Called when the client's
// connection goes away.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	delete(l.clients, clientID)
	l.mu.Unlock()
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	blocked := 0
	for _, cw := range l.clients {
		if cw.blockedUntil.After(now) {
			blocked++
		}
	}
	return Stats{
		TrackedClients: len(l.clients),
		BlockedClients: blocked,
		Admitted:       l.admitted.Load(),
		Rejected:       l.rejected.Load(),
	}
}

// Close stops the cleanup loop. Idempotent.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	now := l.now()
	cutoff := now.Add(-l.cfg.IdleEviction)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, cw := range l.clients {
		if cw.lastSeen.Before(cutoff) && !cw.blockedUntil.After(now) {
			delete(l.clients, id)
		}
	}
}

// prune drops timestamps at or before cutoff, keeping order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
