package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// conn is one client connection. The read loop is the only goroutine
// that touches authed, malformed and boundID; writes from session
// workers serialize on writeMu.
type conn struct {
	id     string
	srv    *Server
	ws     *websocket.Conn
	remote string
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	authed    bool
	malformed int
	boundID   string

	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:     id,
		srv:    s,
		ws:     ws,
		remote: ws.RemoteAddr().String(),
		log:    s.log.With("client_id", id),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// readLoop pulls frames until the peer goes away or the server closes
// the socket. Missing two ping intervals of traffic counts as gone.
func (c *conn) readLoop() {
	cfg := c.srv.cfg
	deadline := cfg.PingInterval + cfg.PongTimeout
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.srv.metrics.RecordWebSocketError("read")
				c.log.Debug("read loop ended", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(deadline))
		c.srv.handleFrame(c, frame)
	}
}

// pingLoop keeps idle connections alive until dropConn closes done.
func (c *conn) pingLoop() {
	t := time.NewTicker(c.srv.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(c.srv.cfg.WriteTimeout))
			if err != nil {
				return
			}
		}
	}
}

// send encodes v and writes it as one text frame. Safe for concurrent
// use; session workers and the read loop both reply through it.
func (c *conn) send(v any) error {
	data, err := schema.Encode(v)
	if err != nil {
		c.srv.metrics.RecordWebSocketError("encode")
		c.log.Error("encode reply failed", "error", err)
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.srv.metrics.RecordWebSocketError("write")
		return err
	}
	return nil
}

// close sends a close frame with the given code and tears down the
// socket, which unblocks the read loop.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.writeMu.Unlock()
		c.ws.Close()
	})
}
