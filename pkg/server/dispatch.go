package server

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/schema"
	"github.com/mshafei721/AIAG-P/pkg/session"
	"github.com/mshafei721/AIAG-P/pkg/transcript"
)

// handleFrame runs one frame through the admission pipeline: decode,
// authenticate, rate limit, validate, sanitize, resolve a session,
// enqueue. Rejections reply from here; accepted commands reply from
// the session worker, which keeps replies ordered per session.
func (s *Server) handleFrame(c *conn, frame []byte) {
	req, derr := schema.Decode(frame)
	if derr != nil {
		c.malformed++
		s.metrics.RecordWebSocketError("malformed")
		c.log.Warn("malformed frame rejected",
			"error_code", derr.Code,
			"streak", c.malformed)

		// Best-effort id salvage so the reply still correlates when
		// only the method was bad.
		var env schema.Envelope
		_ = json.Unmarshal(frame, &env)
		_ = c.send(schema.NewErrorResponse(env.ID, "", schema.Now(), 0, derr))

		if c.malformed >= s.cfg.MalformedFrameLimit {
			c.log.Warn("closing connection after repeated malformed frames")
			c.close(websocket.CloseUnsupportedData, "too many malformed frames")
		}
		return
	}
	c.malformed = 0

	if !c.authed {
		if !s.authenticate(req) {
			s.metrics.RecordWebSocketError("auth")
			c.log.Warn("authentication failed")
			cerr := schema.NewCommandError(schema.ErrCodeAuthFailed, schema.ErrTypeAuth, "invalid api key")
			_ = c.send(schema.NewErrorResponse(req.ID, "", schema.Now(), 0, cerr))
			c.close(websocket.ClosePolicyViolation, "authentication failed")
			return
		}
		c.authed = true
		c.log.Info("client authenticated")
	}

	if d := s.limiter.Allow(c.id); !d.Allowed {
		s.metrics.RecordRateLimited()
		cerr := schema.NewCommandError(schema.ErrCodeRateLimited, schema.ErrTypeRateLimit, "rate limit exceeded").
			WithDetail("retry_after_ms", d.RetryAfter.Milliseconds()).
			WithDetail("cooling_off", d.Blocked)
		s.reject(c, req, cerr)
		return
	}

	if verr := schema.Validate(req); verr != nil {
		s.reject(c, req, verr)
		return
	}

	if serr := s.sanitizer.Check(req); serr != nil {
		c.log.Warn("unsafe input rejected",
			"error_code", serr.Code,
			"method", req.Method)
		s.reject(c, req, serr)
		return
	}

	sess, cerr := s.sessionFor(c, req)
	if cerr != nil {
		s.reject(c, req, cerr)
		return
	}

	timeout := req.Timeout(s.cfg.MaxTimeout)
	err := sess.Submit(c.ctx, func(ctx context.Context) {
		s.execute(ctx, c, sess, req, timeout)
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrClosed):
			cerr = schema.NewCommandError(schema.ErrCodeSessionClosed, schema.ErrTypeSession, "session is closed")
		case errors.Is(err, session.ErrBusy):
			cerr = schema.NewCommandError(schema.ErrCodeResourceExhausted, schema.ErrTypeResource, "session command queue is full")
		default:
			cerr = schema.WireError(err)
		}
		s.reject(c, req, cerr)
	}
}

// authenticate checks the first frame's api key. A server configured
// without a key accepts everyone.
func (s *Server) authenticate(req *schema.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	return hmac.Equal([]byte(req.APIKey), []byte(s.cfg.APIKey))
}

// sessionFor resolves the request's session. An explicit session_id
// must exist and belong to the caller. Without one, the connection's
// bound session is reused, created on first use.
func (s *Server) sessionFor(c *conn, req *schema.Request) (*session.Session, *schema.CommandError) {
	if req.SessionID != "" {
		sess, err := s.sessions.Resolve(req.SessionID, c.id)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, session.ErrNotFound):
			return nil, schema.NewCommandError(schema.ErrCodeSessionNotFound, schema.ErrTypeSession, "session not found")
		case errors.Is(err, session.ErrNotOwned):
			return nil, schema.NewCommandError(schema.ErrCodeSessionNotOwned, schema.ErrTypeSession, "session belongs to another client")
		default:
			return nil, schema.WireError(err)
		}
	}

	if c.boundID != "" {
		if sess, err := s.sessions.Resolve(c.boundID, c.id); err == nil {
			return sess, nil
		}
		// Reaped or closed; bind a fresh one below.
		c.boundID = ""
	}

	sess, err := s.sessions.Create(c.ctx, c.id)
	if err != nil {
		return nil, createError(err)
	}
	c.boundID = sess.ID
	c.log.Info("session bound to connection", "session_id", sess.ID)
	return sess, nil
}

// createError maps session creation failures onto wire errors without
// leaking pool internals.
func createError(err error) *schema.CommandError {
	switch {
	case errors.Is(err, session.ErrCeiling):
		return schema.NewCommandError(schema.ErrCodeResourceExhausted, schema.ErrTypeResource, "session limit reached")
	case errors.Is(err, browser.ErrAcquireTimeout), errors.Is(err, browser.ErrPoolClosed):
		return schema.NewCommandError(schema.ErrCodeResourceExhausted, schema.ErrTypeResource, "no browser context available")
	default:
		return schema.WireError(err)
	}
}

// execute runs on the session worker: serve from cache or run the
// command, then reply. Exactly one reply goes out per accepted frame.
func (s *Server) execute(ctx context.Context, c *conn, sess *session.Session, req *schema.Request, timeout time.Duration) {
	start := s.now()
	ctx, span := s.startSpan(ctx, req, sess.ID, c.id)

	var diff *schema.StateDiff
	payload, fromCache, err := s.cache.GetOrCompute(ctx, sess.ID, req.Cmd, func(ctx context.Context) (any, error) {
		page, perr := sess.Page()
		if perr != nil {
			return nil, perr
		}
		p, d, xerr := s.runner.Execute(ctx, page, req.Cmd, timeout)
		diff = d
		return p, xerr
	})
	elapsed := s.now().Sub(start)
	execMS := elapsed.Milliseconds()
	s.metrics.ObserveCommand(req.Method, err, elapsed)

	if err != nil {
		cerr := schema.WireError(err)
		// A deadline expiry may have abandoned a CDP call on the page;
		// swap it before the next command. Either way the page may have
		// changed under any cached extracts.
		if cerr.Code == schema.ErrCodeTimeout {
			sess.MarkUnhealthy()
		}
		if req.Cmd.Mutating() || cerr.Code == schema.ErrCodeTimeout {
			s.metrics.RecordInvalidations(s.cache.InvalidateSession(sess.ID))
		}
		s.finishSpan(span, fromCache, err)
		c.log.Warn("command failed",
			"request_id", req.ID,
			"method", req.Method,
			"session_id", sess.ID,
			"error_code", cerr.Code,
			"duration_ms", execMS)
		s.recordCommand(c, sess.ID, req, false, string(cerr.Code), execMS)
		_ = c.send(schema.NewErrorResponse(req.ID, sess.ID, schema.Now(), execMS, cerr))
		return
	}

	if schema.CacheEligible(req.Cmd) {
		if fromCache {
			s.metrics.RecordCacheHit()
		} else {
			s.metrics.RecordCacheMiss()
		}
	}
	if req.Cmd.Mutating() {
		s.metrics.RecordInvalidations(s.cache.InvalidateSession(sess.ID))
	}

	reply := schema.BuildResponse(schema.ResponseMeta{
		ID:              req.ID,
		Timestamp:       schema.Now(),
		ExecutionTimeMS: execMS,
		SessionID:       sess.ID,
		FromCache:       fromCache,
		StateDiff:       diff,
	}, payload)
	if reply == nil {
		cerr := schema.NewCommandError(schema.ErrCodeUnknown, schema.ErrTypeInternal, "internal error")
		s.finishSpan(span, fromCache, cerr)
		c.log.Error("runner returned unexpected payload",
			"request_id", req.ID,
			"method", req.Method)
		s.recordCommand(c, sess.ID, req, false, string(cerr.Code), execMS)
		_ = c.send(schema.NewErrorResponse(req.ID, sess.ID, schema.Now(), execMS, cerr))
		return
	}

	s.finishSpan(span, fromCache, nil)
	c.log.Info("command ok",
		"request_id", req.ID,
		"method", req.Method,
		"session_id", sess.ID,
		"duration_ms", execMS,
		"from_cache", fromCache)
	s.recordCommand(c, sess.ID, req, true, "", execMS)
	_ = c.send(reply)
}

// reject replies with an error without touching a session worker.
func (s *Server) reject(c *conn, req *schema.Request, cerr *schema.CommandError) {
	s.metrics.ObserveCommand(req.Method, cerr, 0)
	s.recordCommand(c, req.SessionID, req, false, string(cerr.Code), 0)
	_ = c.send(schema.NewErrorResponse(req.ID, req.SessionID, schema.Now(), 0, cerr))
}

func (s *Server) recordCommand(c *conn, sessionID string, req *schema.Request, success bool, errCode string, execMS int64) {
	if !s.transcripts.Enabled() || sessionID == "" {
		return
	}
	ok := success
	s.transcripts.Record(sessionID, transcript.Event{
		Kind:      transcript.EventCommand,
		ClientID:  c.id,
		RequestID: req.ID,
		Method:    req.Method,
		Success:   &ok,
		ErrorCode: errCode,
		Duration:  execMS,
	})
}
