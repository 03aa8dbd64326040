package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/cache"
	"github.com/mshafei721/AIAG-P/pkg/ratelimit"
	"github.com/mshafei721/AIAG-P/pkg/sanitize"
	"github.com/mshafei721/AIAG-P/pkg/server"
	"github.com/mshafei721/AIAG-P/pkg/session"
	"github.com/mshafei721/AIAG-P/pkg/transcript"
)

// New returns a viper instance seeded with every gateway default and
// bound to AIAG_* environment variables.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_connections", 50)
	v.SetDefault("server.max_message_bytes", 1<<20)
	v.SetDefault("server.malformed_frame_limit", 5)
	v.SetDefault("server.ping_interval", 20*time.Second)
	v.SetDefault("server.pong_timeout", 10*time.Second)
	v.SetDefault("server.max_timeout", 5*time.Minute)
	v.SetDefault("server.disconnect_grace", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("session.max_sessions", 10)
	v.SetDefault("session.idle_timeout", time.Hour)
	v.SetDefault("session.reap_interval", 5*time.Minute)
	v.SetDefault("session.queue_depth", 32)

	v.SetDefault("pool.warm_contexts", 2)
	v.SetDefault("pool.max_contexts", 10)
	v.SetDefault("pool.acquire_timeout", 10*time.Second)
	v.SetDefault("pool.max_context_age", 30*time.Minute)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.ignore_https_errors", false)

	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.reject_threshold", 10)
	v.SetDefault("rate_limit.cool_off", time.Minute)

	v.SetDefault("sanitize.max_selector_len", 1000)
	v.SetDefault("sanitize.max_text_len", 10000)
	v.SetDefault("sanitize.max_url_len", 2048)
	v.SetDefault("sanitize.allow_custom_script", false)
	v.SetDefault("sanitize.allow_non_http_urls", false)
	v.SetDefault("sanitize.allowed_domains", []string{})
	v.SetDefault("sanitize.blocked_domains", []string{})

	v.SetDefault("transcript.dir", "")
	v.SetDefault("transcript.s3_bucket", "")
	v.SetDefault("transcript.s3_prefix", "transcripts/")
	v.SetDefault("transcript.s3_region", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("AIAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v. An empty path means no
// file: defaults, environment, and flags still apply.
func Load(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// ServerConfig produces the gateway server settings.
func ServerConfig(v *viper.Viper) *server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = v.GetString("server.host")
	cfg.Port = v.GetInt("server.port")
	cfg.APIKey = v.GetString("server.api_key")
	cfg.MaxConnections = v.GetInt("server.max_connections")
	cfg.MaxMessageBytes = v.GetInt64("server.max_message_bytes")
	cfg.MalformedFrameLimit = v.GetInt("server.malformed_frame_limit")
	cfg.PingInterval = v.GetDuration("server.ping_interval")
	cfg.PongTimeout = v.GetDuration("server.pong_timeout")
	cfg.MaxTimeout = v.GetDuration("server.max_timeout")
	cfg.DisconnectGrace = v.GetDuration("server.disconnect_grace")
	cfg.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	return cfg
}

// SessionConfig produces the session manager settings.
func SessionConfig(v *viper.Viper) *session.Config {
	cfg := session.DefaultConfig()
	cfg.HardCeiling = v.GetInt("session.max_sessions")
	cfg.IdleTimeout = v.GetDuration("session.idle_timeout")
	cfg.ReapInterval = v.GetDuration("session.reap_interval")
	cfg.QueueDepth = v.GetInt("session.queue_depth")
	return cfg
}

// PoolConfig produces the browser context pool settings.
func PoolConfig(v *viper.Viper) *browser.PoolConfig {
	cfg := browser.DefaultPoolConfig()
	cfg.WarmTarget = v.GetInt("pool.warm_contexts")
	cfg.HardCeiling = v.GetInt("pool.max_contexts")
	cfg.AcquireTimeout = v.GetDuration("pool.acquire_timeout")
	cfg.MaxContextAge = v.GetDuration("pool.max_context_age")
	return cfg
}

// BrowserConfig produces the Chromium launch settings.
func BrowserConfig(v *viper.Viper) *browser.Config {
	cfg := browser.DefaultConfig()
	cfg.Headless = v.GetBool("browser.headless")
	cfg.Bin = v.GetString("browser.bin")
	cfg.ViewportWidth = v.GetInt("browser.viewport_width")
	cfg.ViewportHeight = v.GetInt("browser.viewport_height")
	cfg.UserAgent = v.GetString("browser.user_agent")
	cfg.NoSandbox = v.GetBool("browser.no_sandbox")
	cfg.IgnoreHTTPSErrors = v.GetBool("browser.ignore_https_errors")
	return cfg
}

// CacheConfig produces the extract cache settings.
func CacheConfig(v *viper.Viper) *cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Capacity = v.GetInt("cache.capacity")
	cfg.TTL = v.GetDuration("cache.ttl")
	return cfg
}

// RateLimitConfig produces the per-client limiter settings.
func RateLimitConfig(v *viper.Viper) *ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerWindow = v.GetInt("rate_limit.requests_per_minute")
	cfg.RejectThreshold = v.GetInt("rate_limit.reject_threshold")
	cfg.CoolOff = v.GetDuration("rate_limit.cool_off")
	return cfg
}

// SanitizerConfig produces the input screening settings.
func SanitizerConfig(v *viper.Viper) *sanitize.Config {
	cfg := sanitize.DefaultConfig()
	cfg.MaxSelectorLen = v.GetInt("sanitize.max_selector_len")
	cfg.MaxTextLen = v.GetInt("sanitize.max_text_len")
	cfg.MaxURLLen = v.GetInt("sanitize.max_url_len")
	cfg.AllowCustomScript = v.GetBool("sanitize.allow_custom_script")
	cfg.AllowNonHTTPURLs = v.GetBool("sanitize.allow_non_http_urls")
	cfg.AllowedDomains = v.GetStringSlice("sanitize.allowed_domains")
	cfg.BlockedDomains = v.GetStringSlice("sanitize.blocked_domains")
	return cfg
}

// TranscriptConfig produces the session transcript settings. A nil
// return means transcripts are disabled.
func TranscriptConfig(v *viper.Viper) *transcript.Config {
	dir := v.GetString("transcript.dir")
	if dir == "" {
		return nil
	}
	return &transcript.Config{
		Dir:    dir,
		Bucket: v.GetString("transcript.s3_bucket"),
		Prefix: v.GetString("transcript.s3_prefix"),
	}
}
