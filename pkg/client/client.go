// Package client is the Go SDK for the gateway. A Client multiplexes
// typed commands over one WebSocket connection and correlates replies
// by request id, so calls are safe from any number of goroutines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client: connection closed")

// Config carries connection settings.
type Config struct {
	// URL is the gateway's WebSocket endpoint, e.g.
	// ws://localhost:8080/ws.
	URL string
	// APIKey is attached to the first frame when the gateway requires
	// authentication.
	APIKey string
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns client settings for the given endpoint.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WithAPIKey sets the key sent on the first frame.
func (c *Config) WithAPIKey(key string) *Config {
	c.APIKey = key
	return c
}

// APIError is a command failure reported by the gateway.
type APIError struct {
	Code    string
	Type    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError unwraps err to an *APIError when the failure came from
// the gateway rather than the transport.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Client is one connection to the gateway.
type Client struct {
	cfg *Config
	log *slog.Logger
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	sentKey bool
	closed  bool
	readErr error

	readerDone chan struct{}
}

// Dial connects to the gateway and starts the reply reader.
func Dial(ctx context.Context, cfg *Config, log *slog.Logger) (*Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("client: endpoint url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		cfg:        cfg,
		log:        log.With("component", "client"),
		ws:         ws,
		pending:    make(map[string]chan json.RawMessage),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Session returns a handle addressing commands at one server-side
// session. An empty id targets the connection's own session, which
// the gateway creates on first use and keeps for the connection's
// lifetime.
func (c *Client) Session(id string) *Session {
	return &Session{c: c, id: id}
}

// Close sends a normal close frame and tears down the connection.
// Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.readerDone
	return err
}

// call sends one frame and waits for its reply. fields carry the
// method-specific wire parameters.
func (c *Client) call(ctx context.Context, method, sessionID string, fields map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	frame := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		frame[k] = v
	}
	frame["id"] = id
	frame["method"] = method
	if sessionID != "" {
		frame["session_id"] = sessionID
	}

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	}
	if !c.sentKey {
		c.sentKey = true
		if c.cfg.APIKey != "" {
			frame["api_key"] = c.cfg.APIKey
		}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("client: encode %s: %w", method, err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("client: send %s: %w", method, err)
	}

	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, c.terminalErr()
		}
		return raw, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// readLoop routes reply frames to their waiting calls.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var env struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(frame, &env) != nil || env.ID == "" {
			c.log.Debug("uncorrelated frame dropped")
			continue
		}
		c.mu.Lock()
		ch := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- json.RawMessage(frame)
		}
	}
}

// fail wakes every pending call after the connection dies.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil && !c.closed {
		c.readErr = fmt.Errorf("client: connection lost: %w", err)
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

// do runs one command and decodes its reply into out, converting
// gateway failures into *APIError.
func (c *Client) do(ctx context.Context, method, sessionID string, fields map[string]any, out any) error {
	raw, err := c.call(ctx, method, sessionID, fields)
	if err != nil {
		return err
	}
	var probe struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("client: decode reply: %w", err)
	}
	if !probe.Success {
		var er schema.ErrorResponse
		if err := json.Unmarshal(raw, &er); err != nil {
			return fmt.Errorf("client: decode error reply: %w", err)
		}
		return &APIError{
			Code:    er.ErrorCode,
			Type:    er.ErrorType,
			Message: er.Error,
			Details: er.Details,
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s reply: %w", method, err)
	}
	return nil
}
