package server

import (
	"encoding/json"
	"net/http"

	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/cache"
	"github.com/mshafei721/AIAG-P/pkg/ratelimit"
	"github.com/mshafei721/AIAG-P/pkg/session"
)

// Stats is the /stats snapshot.
type Stats struct {
	UptimeSeconds float64              `json:"uptime_seconds"`
	Connections   int                  `json:"connections"`
	Sessions      session.ManagerStats `json:"sessions"`
	Pool          *browser.PoolStats   `json:"pool,omitempty"`
	Cache         cache.Stats          `json:"cache"`
	RateLimit     ratelimit.Stats      `json:"rate_limit"`
}

// Stats assembles a snapshot across the server's collaborators and
// refreshes the pool gauges while it is at it.
func (s *Server) Stats() Stats {
	st := Stats{
		UptimeSeconds: s.now().Sub(s.start).Seconds(),
		Connections:   s.connCount(),
		Cache:         s.cache.Stats(),
		RateLimit:     s.limiter.Stats(),
	}
	if s.sessions != nil {
		st.Sessions = s.sessions.Stats()
	}
	if s.pool != nil {
		ps := s.pool.Stats()
		st.Pool = &ps
		s.metrics.SetPoolGauges(ps.Available, ps.Leased)
	}
	return st
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz reports not-ready once shutdown has begun so load
// balancers stop routing new clients here.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.log.Error("encode stats failed", "error", err)
	}
}
