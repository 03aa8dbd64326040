package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/mshafei721/AIAG-P/pkg/browser"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrNotOwned = errors.New("session: not owned by caller")
	ErrCeiling  = errors.New("session: hard ceiling reached")
	ErrClosed   = errors.New("session: closed")
	ErrBusy     = errors.New("session: command queue full")
)

// pageCloseTimeout bounds how long closing a page may take. A page
// abandoned mid-primitive can stop answering CDP calls entirely.
const pageCloseTimeout = 2 * time.Second

// job is one unit of work on the session worker. run carries the whole
// dispatch pipeline for a command, including writing the reply.
type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Session is one isolated browser context plus its active page, bound
// to the client that created it. ID, ClientID and CreatedAt are
// immutable after creation.
type Session struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	bctx *browser.Context
	page *rod.Page

	openPage  func(*browser.Context) (*rod.Page, error)
	closePage func(*rod.Page)

	log *slog.Logger
	now func() time.Time

	lastActive atomic.Int64
	commands   atomic.Int64
	executing  atomic.Bool
	needsReset atomic.Bool

	mu     sync.Mutex
	closed bool

	queue chan job
	done  chan struct{}
	wg    sync.WaitGroup
}

// Submit enqueues run on the session's worker. Calls from a single
// goroutine are executed in call order. A full queue fails fast with
// ErrBusy rather than stalling the caller's read loop.
func (s *Session) Submit(ctx context.Context, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- job{ctx: ctx, run: run}:
		return nil
	default:
		return ErrBusy
	}
}

// Page returns the session's live page. When the previous command
// abandoned a primitive on it, the page is swapped for a fresh one
// from the same context before reuse. Must only be called from a
// submitted job.
func (s *Session) Page() (*rod.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if s.needsReset.CompareAndSwap(true, false) {
		s.closePage(s.page)
		p, err := s.openPage(s.bctx)
		if err != nil {
			// Flag stays set so the next command retries the swap.
			s.needsReset.Store(true)
			return nil, fmt.Errorf("session: page reset: %w", err)
		}
		s.page = p
		s.log.Info("session page reset", "session_id", s.ID)
	}
	return s.page, nil
}

// MarkUnhealthy flags the page for replacement before the next
// command. Called after a timeout left a primitive running on it.
func (s *Session) MarkUnhealthy() { s.needsReset.Store(true) }

// Touch updates last-activity to now.
func (s *Session) Touch() { s.lastActive.Store(s.now().UnixNano()) }

// LastActive returns the last-activity timestamp.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Executing reports whether the worker is inside a command right now.
func (s *Session) Executing() bool { return s.executing.Load() }

// CommandCount returns how many commands the session has started.
func (s *Session) CommandCount() int64 { return s.commands.Load() }

func (s *Session) worker() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.queue:
			s.runJob(j)
		case <-s.done:
			return
		}
	}
}

// runJob touches last-activity on entry, not on completion, so a
// long-running command does not race the idle reaper.
func (s *Session) runJob(j job) {
	s.Touch()
	s.commands.Add(1)
	s.executing.Store(true)
	defer s.executing.Store(false)
	j.run(j.ctx)
}

// close stops the worker, fails whatever was still queued and closes
// the page. Queued jobs still run so each produces its reply; with the
// closed flag set they fail fast at Page(). Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	for {
		select {
		case j := <-s.queue:
			s.runJob(j)
		default:
			s.closePage(s.page)
			return
		}
	}
}

// defaultClosePage bounds the close call so a wedged page cannot hang
// session teardown.
func defaultClosePage(p *rod.Page) {
	if p == nil {
		return
	}
	_ = p.Timeout(pageCloseTimeout).Close()
}
