package server

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port"},
		{"short api key", func(c *Config) { c.APIKey = "too-short" }, "api key"},
		{"no connections", func(c *Config) { c.MaxConnections = 0 }, "connection"},
		{"tiny message cap", func(c *Config) { c.MaxMessageBytes = 100 }, "message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestAddrJoinsHostAndPort(t *testing.T) {
	cfg := DefaultConfig().WithAddr("0.0.0.0", 9000)
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q, want 0.0.0.0:9000", got)
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxConnections != 50 {
		t.Errorf("MaxConnections = %d, want 50", cfg.MaxConnections)
	}
	if cfg.PingInterval != 20*time.Second {
		t.Errorf("PingInterval = %v, want 20s", cfg.PingInterval)
	}
	if cfg.MaxMessageBytes != 1<<20 {
		t.Errorf("MaxMessageBytes = %d, want 1MiB", cfg.MaxMessageBytes)
	}
}
