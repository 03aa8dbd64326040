package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// Context is one isolated incognito browser context leased from the
// Pool. Cookies, storage, and cache are invisible to every other
// context.
type Context struct {
	id        string
	inc       *rod.Browser
	cfg       *Config
	createdAt time.Time
}

func newContext(b *Browser) (*Context, error) {
	inc, err := b.rod.Incognito()
	if err != nil {
		return nil, fmt.Errorf("creating incognito context: %w", err)
	}
	return &Context{
		id:        uuid.NewString(),
		inc:       inc,
		cfg:       b.cfg,
		createdAt: time.Now(),
	}, nil
}

// ID identifies the context in logs and stats.
func (c *Context) ID() string { return c.id }

// Age is how long ago the context was created.
func (c *Context) Age() time.Duration { return time.Since(c.createdAt) }

// NewPage opens a blank page in the context with the configured
// viewport and user agent applied.
func (c *Context) NewPage() (*rod.Page, error) {
	page, err := c.inc.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.ViewportWidth,
		Height:            c.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("setting viewport: %w", err)
	}
	if c.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: c.cfg.UserAgent,
		}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("setting user agent: %w", err)
		}
	}
	return page, nil
}

// healthy verifies the context can still open and close a page.
func (c *Context) healthy() bool {
	page, err := c.inc.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	return page.Close() == nil
}

// dispose tears the context down. Every page belonging to it is
// closed by the browser.
func (c *Context) dispose() error {
	return proto.TargetDisposeBrowserContext{
		BrowserContextID: c.inc.BrowserContextID,
	}.Call(c.inc)
}
