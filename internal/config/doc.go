// Package config wires the gateway's settings: defaults, an optional
// YAML/TOML/JSON config file, and AIAG_* environment variables, in
// rising precedence. Flags bound by the CLI sit on top of all three.
//
// # Keys
//
// Keys are dotted and grouped by component:
//
//	server.host             localhost
//	server.port             8080
//	server.api_key          (unset: authentication disabled)
//	server.max_connections  50
//	session.max_sessions    10
//	session.idle_timeout    1h
//	pool.warm_contexts      2
//	pool.max_contexts       10
//	browser.headless        true
//	cache.capacity          1000
//	cache.ttl               5m
//	rate_limit.requests_per_minute  60
//	sanitize.allowed_domains        (empty: all domains)
//	transcript.dir          (unset: transcripts disabled)
//	transcript.s3_bucket    (unset: archived locally only)
//	log.level               info
//	log.format              text
//
// The environment variable for a key replaces dots with underscores
// and upper-cases it behind the AIAG prefix: server.api_key becomes
// AIAG_SERVER_API_KEY.
//
// # Usage
//
//	v := config.New()
//	if err := config.Load(v, path); err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(config.ServerConfig(v), deps)
package config
