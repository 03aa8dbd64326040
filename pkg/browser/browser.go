// Package browser owns the Chromium process and the pool of warm
// incognito contexts that sessions attach to.
package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config holds launch and page settings for the browser process.
type Config struct {
	Headless bool
	// Bin points at a Chromium binary. Empty lets the launcher
	// resolve or download one.
	Bin            string
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	// SlowMo delays every control call, for debugging.
	SlowMo time.Duration

	NoSandbox          bool
	DisableWebSecurity bool
	DisableDevShm      bool
	IgnoreHTTPSErrors  bool
}

// DefaultConfig returns the production browser settings.
func DefaultConfig() *Config {
	return &Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		DisableDevShm:  true,
	}
}

// WithHeadless toggles headless mode.
func (c *Config) WithHeadless(headless bool) *Config {
	c.Headless = headless
	return c
}

// WithViewport overrides the page viewport applied to new pages.
func (c *Config) WithViewport(width, height int) *Config {
	c.ViewportWidth = width
	c.ViewportHeight = height
	return c
}

// WithUserAgent overrides the user agent applied to new pages.
func (c *Config) WithUserAgent(ua string) *Config {
	c.UserAgent = ua
	return c
}

// Browser wraps one Chromium process reached over the DevTools
// protocol. Isolated contexts are carved out of it by the Pool.
type Browser struct {
	cfg *Config
	log *slog.Logger
	rod *rod.Browser
}

// Connect launches Chromium per cfg and attaches to it. The caller
// owns the process and must Close it.
func Connect(cfg *Config, log *slog.Logger) (*Browser, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "browser")

	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.NoSandbox {
		log.Warn("running browser without sandbox")
		l = l.Set("no-sandbox")
	}
	if cfg.DisableWebSecurity {
		log.Warn("running browser with web security disabled")
		l = l.Set("disable-web-security")
	}
	if cfg.DisableDevShm {
		l = l.Set("disable-dev-shm-usage")
	}
	if cfg.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors").Set("ignore-ssl-errors")
	}
	l = l.Set("disable-blink-features", "AutomationControlled").
		Set("disable-features", "VizDisplayCompositor").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-backgrounding-occluded-windows")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if cfg.SlowMo > 0 {
		b = b.SlowMotion(cfg.SlowMo)
	}
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	if cfg.IgnoreHTTPSErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn("could not ignore certificate errors", "error", err)
		}
	}

	log.Info("browser connected",
		"headless", cfg.Headless,
		"control_url", url)
	return &Browser{cfg: cfg, log: log, rod: b}, nil
}

// Healthy probes the control connection.
func (b *Browser) Healthy() bool {
	_, err := b.rod.Version()
	return err == nil
}

// Close shuts the browser process down.
func (b *Browser) Close() error {
	b.log.Info("closing browser")
	return b.rod.Close()
}
