package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("browser: pool closed")
	// ErrAcquireTimeout is returned when the pool is at its hard
	// ceiling and no context frees up within the acquire timeout.
	ErrAcquireTimeout = errors.New("browser: context acquire timed out")
)

// PoolConfig tunes the warm-context pool.
type PoolConfig struct {
	// WarmTarget is how many idle contexts the maintainer keeps
	// ready.
	WarmTarget int
	// HardCeiling bounds live contexts, leased plus idle.
	HardCeiling int
	// AcquireTimeout bounds the wait when the pool is at ceiling.
	AcquireTimeout time.Duration
	// MaxContextAge discards a context at its next release.
	MaxContextAge time.Duration
	// MaintainInterval is the replenishment cadence.
	MaintainInterval time.Duration
}

// DefaultPoolConfig returns the production pool settings.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		WarmTarget:       2,
		HardCeiling:      10,
		AcquireTimeout:   10 * time.Second,
		MaxContextAge:    30 * time.Minute,
		MaintainInterval: time.Minute,
	}
}

// WithCeiling overrides the warm target and hard ceiling.
func (c *PoolConfig) WithCeiling(warm, ceiling int) *PoolConfig {
	c.WarmTarget = warm
	c.HardCeiling = ceiling
	return c
}

// WithAcquireTimeout overrides the at-ceiling wait bound.
func (c *PoolConfig) WithAcquireTimeout(d time.Duration) *PoolConfig {
	c.AcquireTimeout = d
	return c
}

// PoolStats is a snapshot for the stats endpoint.
type PoolStats struct {
	Available int    `json:"available"`
	Leased    int    `json:"leased"`
	Created   uint64 `json:"created"`
	Destroyed uint64 `json:"destroyed"`
	Reused    uint64 `json:"reused"`
	Timeouts  uint64 `json:"timeouts"`
}

// Pool hands out isolated contexts, reusing released ones and
// creating fresh ones up to the hard ceiling. A background
// maintainer keeps the warm target filled. Safe for concurrent use.
type Pool struct {
	cfg     *PoolConfig
	log     *slog.Logger
	browser *Browser

	// slots holds one token per live context; available holds idle
	// contexts ready for lease.
	slots     chan struct{}
	available chan *Context

	leased    atomic.Int64
	created   atomic.Uint64
	destroyed atomic.Uint64
	reused    atomic.Uint64
	timeouts  atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	kick      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Seams for tests; production wiring is set in NewPool.
	newCtx  func() (*Context, error)
	probe   func(*Context) bool
	destroy func(*Context) error
}

// NewPool builds a Pool over b and starts the maintainer. Call Warm
// to pre-fill it and Close to tear it down.
func NewPool(b *Browser, cfg *PoolConfig, log *slog.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		cfg:       cfg,
		log:       log.With("component", "browser-pool"),
		browser:   b,
		slots:     make(chan struct{}, cfg.HardCeiling),
		available: make(chan *Context, cfg.HardCeiling),
		done:      make(chan struct{}),
		kick:      make(chan struct{}, 1),
	}
	p.newCtx = func() (*Context, error) { return newContext(p.browser) }
	p.probe = (*Context).healthy
	p.destroy = (*Context).dispose
	p.wg.Add(1)
	go p.maintainLoop()
	return p
}

// Warm fills the pool up to the warm target. It fails on the first
// context that cannot be created.
func (p *Pool) Warm(ctx context.Context) error {
	for len(p.available) < p.cfg.WarmTarget {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !p.takeSlot() {
			return nil
		}
		c, err := p.create()
		if err != nil {
			p.freeSlot()
			return err
		}
		p.available <- c
	}
	p.log.Info("pool warmed", "contexts", len(p.available))
	return nil
}

// Acquire leases a context. It prefers an idle one, creates a fresh
// one below the hard ceiling, and otherwise waits up to the acquire
// timeout for a release.
func (p *Pool) Acquire(ctx context.Context) (*Context, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case c := <-p.available:
		p.reused.Add(1)
		p.leased.Add(1)
		return c, nil
	default:
	}

	if p.takeSlot() {
		c, err := p.create()
		if err != nil {
			p.freeSlot()
			return nil, err
		}
		p.leased.Add(1)
		return c, nil
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case c := <-p.available:
		p.reused.Add(1)
		p.leased.Add(1)
		return c, nil
	case <-timer.C:
		p.timeouts.Add(1)
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

// Release returns a leased context. Contexts past the age limit or
// failing the health probe are discarded and replenishment is
// kicked; healthy ones go back on the idle list.
func (p *Pool) Release(c *Context) {
	if c == nil {
		return
	}
	p.leased.Add(-1)

	if p.closed.Load() {
		p.discard(c, "pool closed")
		return
	}
	if c.Age() > p.cfg.MaxContextAge {
		p.discard(c, "past age limit")
		p.kickMaintainer()
		return
	}
	if !p.probe(c) {
		p.discard(c, "failed health probe")
		p.kickMaintainer()
		return
	}
	p.available <- c
}

// NewPage opens a page inside a leased context with the configured
// viewport and user agent applied.
func (p *Pool) NewPage(c *Context) (*rod.Page, error) {
	return c.NewPage()
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Available: len(p.available),
		Leased:    int(p.leased.Load()),
		Created:   p.created.Load(),
		Destroyed: p.destroyed.Load(),
		Reused:    p.reused.Load(),
		Timeouts:  p.timeouts.Load(),
	}
}

// Close stops the maintainer and disposes every idle context.
// Leased contexts are disposed as their sessions release them.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()

		eg, _ := errgroup.WithContext(ctx)
		eg.SetLimit(4)
		for {
			select {
			case c := <-p.available:
				eg.Go(func() error {
					p.discard(c, "pool closing")
					return nil
				})
				continue
			default:
			}
			break
		}
		err = eg.Wait()
		p.log.Info("pool closed",
			"created", p.created.Load(),
			"destroyed", p.destroyed.Load())
	})
	return err
}

func (p *Pool) maintainLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.replenish()
		case <-p.kick:
			p.replenish()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) replenish() {
	for len(p.available) < p.cfg.WarmTarget {
		if p.closed.Load() || !p.takeSlot() {
			return
		}
		c, err := p.create()
		if err != nil {
			p.freeSlot()
			p.log.Error("could not replenish pool", "error", err)
			return
		}
		select {
		case p.available <- c:
		case <-p.done:
			p.discard(c, "pool closing")
			return
		}
	}
}

func (p *Pool) create() (*Context, error) {
	c, err := p.newCtx()
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	p.log.Debug("context created", "context_id", c.ID())
	return c, nil
}

func (p *Pool) discard(c *Context, reason string) {
	if err := p.destroy(c); err != nil {
		p.log.Warn("error disposing context",
			"context_id", c.ID(),
			"error", err)
	}
	p.freeSlot()
	p.destroyed.Add(1)
	p.log.Debug("context discarded",
		"context_id", c.ID(),
		"reason", reason)
}

func (p *Pool) kickMaintainer() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Pool) takeSlot() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Pool) freeSlot() {
	select {
	case <-p.slots:
	default:
	}
}
