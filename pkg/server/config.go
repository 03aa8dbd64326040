package server

import (
	"fmt"
	"net/http"
	"time"
)

// Config tunes the WebSocket gateway surface.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// APIKey, when non-empty, must match the api_key field of every
	// connection's first frame. Minimum 16 characters.
	APIKey string

	// MaxConnections bounds concurrent WebSocket connections. Extra
	// connections are closed with code 4001 after the handshake.
	MaxConnections int

	// MaxMessageBytes caps one inbound frame.
	MaxMessageBytes int64

	// MalformedFrameLimit closes the connection after this many
	// consecutive undecodable frames.
	MalformedFrameLimit int

	// PingInterval and PongTimeout drive keepalive. A connection
	// silent past PingInterval+PongTimeout is considered dead.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// WriteTimeout bounds one reply write.
	WriteTimeout time.Duration

	// MaxTimeout caps the per-command timeout a client may request.
	MaxTimeout time.Duration

	// DisconnectGrace is how long a disconnected client's sessions
	// survive before in-flight work is cancelled and they close. A
	// quick reconnect does not help; sessions are bound to the
	// connection that created them.
	DisconnectGrace time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// ReadBufferSize and WriteBufferSize size the upgrader buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin overrides the upgrader's origin check. The default
	// accepts every origin; gateway clients are programs, not
	// browsers, and authenticate with the API key instead.
	CheckOrigin func(*http.Request) bool
}

// DefaultConfig returns the production gateway settings.
func DefaultConfig() *Config {
	return &Config{
		Host:                "localhost",
		Port:                8080,
		MaxConnections:      50,
		MaxMessageBytes:     1 << 20,
		MalformedFrameLimit: 5,
		PingInterval:        20 * time.Second,
		PongTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
		MaxTimeout:          300 * time.Second,
		DisconnectGrace:     5 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
	}
}

// WithAddr overrides the listen address.
func (c *Config) WithAddr(host string, port int) *Config {
	c.Host = host
	c.Port = port
	return c
}

// WithAPIKey enables first-frame authentication.
func (c *Config) WithAPIKey(key string) *Config {
	c.APIKey = key
	return c
}

// WithConnectionLimit overrides the concurrent connection bound.
func (c *Config) WithConnectionLimit(n int) *Config {
	c.MaxConnections = n
	return c
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate reports configuration errors a running gateway cannot
// tolerate.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Port)
	}
	if c.APIKey != "" && len(c.APIKey) < 16 {
		return fmt.Errorf("server: api key must be at least 16 characters")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("server: max connections must be positive")
	}
	if c.MaxMessageBytes < 1024 {
		return fmt.Errorf("server: max message size must be at least 1024 bytes")
	}
	return nil
}

// normalize fills zero fields with their defaults so a partially
// populated Config behaves like DefaultConfig for the rest.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.MalformedFrameLimit == 0 {
		c.MalformedFrameLimit = d.MalformedFrameLimit
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = d.DisconnectGrace
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
}
