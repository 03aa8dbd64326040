package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"github.com/mshafei721/AIAG-P/pkg/browser"
)

// Close reasons passed to the OnClose callback.
const (
	CloseExplicit   = "explicit"
	CloseDisconnect = "disconnect"
	CloseIdle       = "idle"
	CloseShutdown   = "shutdown"
)

// Browser is the slice of the context pool the manager needs.
// *browser.Pool satisfies it.
type Browser interface {
	Acquire(ctx context.Context) (*browser.Context, error)
	Release(c *browser.Context)
	NewPage(c *browser.Context) (*rod.Page, error)
}

// Config tunes the session manager.
type Config struct {
	// HardCeiling bounds concurrent sessions across all clients.
	// Create fails fast with ErrCeiling once it is reached.
	HardCeiling int
	// IdleTimeout is how long a session may go without a command
	// before the reaper closes it.
	IdleTimeout time.Duration
	// ReapInterval is the idle-scan cadence.
	ReapInterval time.Duration
	// QueueDepth is the per-session command queue capacity. Submit
	// fails with ErrBusy once it is full.
	QueueDepth int
}

// DefaultConfig returns the production session settings.
func DefaultConfig() *Config {
	return &Config{
		HardCeiling:  10,
		IdleTimeout:  time.Hour,
		ReapInterval: 5 * time.Minute,
		QueueDepth:   32,
	}
}

// WithCeiling overrides the concurrent session bound.
func (c *Config) WithCeiling(n int) *Config {
	c.HardCeiling = n
	return c
}

// WithIdleTimeout overrides the idle reap threshold.
func (c *Config) WithIdleTimeout(d time.Duration) *Config {
	c.IdleTimeout = d
	return c
}

// ManagerStats is a snapshot for the stats endpoint.
type ManagerStats struct {
	Active  int    `json:"active"`
	Created uint64 `json:"created"`
	Closed  uint64 `json:"closed"`
	Reaped  uint64 `json:"reaped"`
}

// Manager owns the session table. It enforces the hard ceiling and
// client ownership, reaps idle sessions in the background and returns
// each session's browser context to the pool on close. Safe for
// concurrent use.
type Manager struct {
	cfg  *Config
	log  *slog.Logger
	pool Browser
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	created atomic.Uint64
	closedN atomic.Uint64
	reaped  atomic.Uint64

	onCreate func(*Session)
	onClose  func(*Session, string)

	done       chan struct{}
	reaperDone chan struct{}
	closeOnce  sync.Once
}

// NewManager builds a Manager over pool and starts the idle reaper.
// Call Shutdown to tear it down.
func NewManager(pool Browser, cfg *Config, log *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Minute
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:        cfg,
		log:        log.With("component", "sessions"),
		pool:       pool,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// SetOnCreate registers a callback invoked after each session is
// created. Register before serving traffic.
func (m *Manager) SetOnCreate(fn func(*Session)) { m.onCreate = fn }

// SetOnClose registers a callback invoked after each session closes,
// with one of the Close* reasons. Register before serving traffic.
func (m *Manager) SetOnClose(fn func(*Session, string)) { m.onClose = fn }

// Create leases a browser context, opens its page and registers a new
// session owned by clientID. At the hard ceiling it fails fast with
// ErrCeiling instead of queueing.
func (m *Manager) Create(ctx context.Context, clientID string) (*Session, error) {
	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	if n >= m.cfg.HardCeiling {
		return nil, ErrCeiling
	}

	bctx, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: acquire context: %w", err)
	}
	page, err := m.pool.NewPage(bctx)
	if err != nil {
		m.pool.Release(bctx)
		return nil, fmt.Errorf("session: open page: %w", err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		CreatedAt: m.now(),
		bctx:      bctx,
		page:      page,
		openPage:  m.pool.NewPage,
		closePage: defaultClosePage,
		log:       m.log,
		now:       m.now,
		queue:     make(chan job, m.cfg.QueueDepth),
		done:      make(chan struct{}),
	}
	s.Touch()
	s.wg.Add(1)
	go s.worker()

	m.mu.Lock()
	// The ceiling check above ran without the write lock, so recheck
	// before registering.
	if len(m.sessions) >= m.cfg.HardCeiling {
		m.mu.Unlock()
		s.close()
		m.pool.Release(bctx)
		return nil, ErrCeiling
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.created.Add(1)
	if m.onCreate != nil {
		m.onCreate(s)
	}
	m.log.Info("session created",
		"session_id", s.ID,
		"client_id", clientID)
	return s, nil
}

// Resolve returns the session with the given id if clientID owns it.
func (m *Manager) Resolve(id, clientID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.ClientID != clientID {
		return nil, ErrNotOwned
	}
	return s, nil
}

// Close removes and closes the session with the given id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.closeSession(s, CloseExplicit)
	return nil
}

// CloseOwnedBy closes every session owned by clientID and returns how
// many it closed. Called when a client's connection is gone for good.
func (m *Manager) CloseOwnedBy(clientID string) int {
	m.mu.Lock()
	var owned []*Session
	for id, s := range m.sessions {
		if s.ClientID == clientID {
			owned = append(owned, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range owned {
		m.closeSession(s, CloseDisconnect)
	}
	return len(owned)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns a snapshot of session activity. Closed counts every
// close; Reaped is the subset closed by the idle reaper.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Active:  m.Count(),
		Created: m.created.Load(),
		Closed:  m.closedN.Load(),
		Reaped:  m.reaped.Load(),
	}
}

// Shutdown stops the reaper and closes all remaining sessions
// concurrently. It returns early with the context error if ctx expires
// while sessions are still draining.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	<-m.reaperDone

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.closeSession(s, CloseShutdown)
		}(s)
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) closeSession(s *Session, reason string) {
	s.close()
	m.pool.Release(s.bctx)
	m.closedN.Add(1)
	if reason == CloseIdle {
		m.reaped.Add(1)
	}
	if m.onClose != nil {
		m.onClose(s, reason)
	}
	m.log.Info("session closed",
		"session_id", s.ID,
		"client_id", s.ClientID,
		"reason", reason,
		"commands", s.CommandCount())
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.done:
			return
		}
	}
}

// reapIdle closes sessions idle past the timeout. Sessions inside a
// command are skipped; a long-running command is activity.
func (m *Manager) reapIdle() {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.Executing() {
			continue
		}
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		m.closeSession(s, CloseIdle)
	}
	if len(idle) > 0 {
		m.log.Info("idle sessions reaped", "count", len(idle))
	}
}
