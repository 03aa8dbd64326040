// Package server implements the gateway's WebSocket surface. It
// upgrades client connections, authenticates and rate limits them,
// routes decoded commands through per-session workers, and writes
// exactly one reply for every request id it accepts.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/cache"
	"github.com/mshafei721/AIAG-P/pkg/executor"
	"github.com/mshafei721/AIAG-P/pkg/metrics"
	"github.com/mshafei721/AIAG-P/pkg/ratelimit"
	"github.com/mshafei721/AIAG-P/pkg/sanitize"
	"github.com/mshafei721/AIAG-P/pkg/schema"
	"github.com/mshafei721/AIAG-P/pkg/session"
	"github.com/mshafei721/AIAG-P/pkg/transcript"
)

// Runner executes one command against a session's page.
// *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, page *rod.Page, cmd schema.Command, timeout time.Duration) (any, *schema.StateDiff, error)
}

// PoolStatser exposes browser pool composition for the stats
// endpoint. *browser.Pool satisfies it.
type PoolStatser interface {
	Stats() browser.PoolStats
}

// Deps are the collaborators the server dispatches through. Sessions
// is required. Nil Cache, Limiter, Sanitizer and Runner get default
// instances; nil Metrics disables recording; nil Transcripts disables
// transcripts; nil Pool omits pool figures from /stats.
type Deps struct {
	Sessions    *session.Manager
	Cache       *cache.Cache
	Limiter     *ratelimit.Limiter
	Sanitizer   *sanitize.Sanitizer
	Runner      Runner
	Metrics     *metrics.Metrics
	Transcripts *transcript.Recorder
	Pool        PoolStatser
	Logger      *slog.Logger
}

// Server is the WebSocket gateway.
type Server struct {
	cfg *Config
	log *slog.Logger

	sessions    *session.Manager
	cache       *cache.Cache
	limiter     *ratelimit.Limiter
	sanitizer   *sanitize.Sanitizer
	runner      Runner
	metrics     *metrics.Metrics
	transcripts *transcript.Recorder
	pool        PoolStatser

	upgrader websocket.Upgrader
	tracer   trace.Tracer
	now      func() time.Time
	start    time.Time

	connMu sync.Mutex
	conns  map[*conn]struct{}

	httpServer   *http.Server
	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New builds a Server over its collaborators. Run or Router serve it.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "server")

	if deps.Cache == nil {
		deps.Cache = cache.New(nil, log)
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(nil, log)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = sanitize.New(nil)
	}
	if deps.Runner == nil {
		deps.Runner = executor.New(log)
	}
	if deps.Transcripts == nil {
		deps.Transcripts, _ = transcript.New(nil, nil, log)
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		sessions:    deps.Sessions,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		sanitizer:   deps.Sanitizer,
		runner:      deps.Runner,
		metrics:     deps.Metrics,
		transcripts: deps.Transcripts,
		pool:        deps.Pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		start:  time.Now(),
		conns:  make(map[*conn]struct{}),
	}

	if s.sessions != nil {
		s.sessions.SetOnCreate(s.onSessionCreate)
		s.sessions.SetOnClose(s.onSessionClose)
	}
	return s
}

// Router returns the gateway's HTTP surface: the WebSocket endpoint
// plus health, stats and Prometheus scrape routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Run starts the listener and blocks until SIGINT/SIGTERM or a listen
// failure, then shuts down gracefully.
func (s *Server) Run() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.sessions == nil {
		return errors.New("server: session manager is required")
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening",
			"addr", s.cfg.Addr(),
			"auth", s.cfg.APIKey != "")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-shutdown:
		s.log.Info("shutting down", "signal", sig.String())
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections, closes the live ones, drains
// every session and ends open transcripts. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		s.closeConns()
		if s.sessions != nil {
			if e := s.sessions.Shutdown(ctx); e != nil && err == nil {
				err = e
			}
		}
		s.transcripts.Close(ctx)
		s.log.Info("gateway shutdown complete")
	})
	return err
}

// handleWS owns one connection from upgrade to cleanup.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RecordWebSocketError("upgrade")
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newConn(s, ws)
	if s.closed.Load() {
		c.close(websocket.CloseGoingAway, "server shutting down")
		c.cancel()
		return
	}
	if !s.register(c) {
		s.log.Warn("connection limit reached", "remote", c.remote)
		c.close(4001, "connection limit exceeded")
		c.cancel()
		return
	}
	s.metrics.RecordConnOpen()
	c.log.Info("client connected", "remote", c.remote)

	go c.pingLoop()
	c.readLoop()
	s.dropConn(c)
}

func (s *Server) register(c *conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if len(s.conns) >= s.cfg.MaxConnections {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

// dropConn runs after a connection's read loop exits. The client's
// sessions survive the disconnect grace, then in-flight work is
// cancelled and they close.
func (s *Server) dropConn(c *conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
	close(c.done)
	s.metrics.RecordConnClose()
	s.limiter.Forget(c.id)
	c.log.Info("client disconnected")

	cleanup := func() {
		c.cancel()
		if s.sessions == nil {
			return
		}
		if n := s.sessions.CloseOwnedBy(c.id); n > 0 {
			c.log.Info("closed sessions for disconnected client", "count", n)
		}
	}
	if s.cfg.DisconnectGrace <= 0 {
		cleanup()
		return
	}
	time.AfterFunc(s.cfg.DisconnectGrace, cleanup)
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) connCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

func (s *Server) onSessionCreate(sess *session.Session) {
	s.metrics.RecordSessionCreate()
	s.transcripts.Record(sess.ID, transcript.Event{
		Kind:     transcript.EventSessionStart,
		ClientID: sess.ClientID,
	})
}

func (s *Server) onSessionClose(sess *session.Session, reason string) {
	s.metrics.RecordSessionClose(reason == session.CloseIdle)
	s.transcripts.Record(sess.ID, transcript.Event{
		Kind:     transcript.EventSessionEnd,
		ClientID: sess.ClientID,
		Detail: map[string]any{
			"reason":   reason,
			"commands": sess.CommandCount(),
		},
	})
	s.transcripts.EndSession(context.Background(), sess.ID)
}
