package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mshafei721/AIAG-P/internal/config"
	"github.com/mshafei721/AIAG-P/pkg/browser"
	"github.com/mshafei721/AIAG-P/pkg/cache"
	"github.com/mshafei721/AIAG-P/pkg/executor"
	"github.com/mshafei721/AIAG-P/pkg/metrics"
	"github.com/mshafei721/AIAG-P/pkg/ratelimit"
	"github.com/mshafei721/AIAG-P/pkg/sanitize"
	"github.com/mshafei721/AIAG-P/pkg/server"
	"github.com/mshafei721/AIAG-P/pkg/session"
	"github.com/mshafei721/AIAG-P/pkg/transcript"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Start the WebSocket gateway and serve agent connections.

Settings come from flags, AIAG_* environment variables and the config
file, in that order of precedence. Run with no flags to listen on
localhost:8080 without authentication.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, configPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to config file")
	f.String("host", "localhost", "listen host")
	f.Int("port", 8080, "listen port")
	f.String("api-key", "", "shared API key clients must present (min 16 chars)")
	f.Bool("headless", true, "run the browser headless")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text, json)")

	return cmd
}

// bindFlags maps the serve flags onto viper keys. Only flags the user
// actually set override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	f := cmd.Flags()
	bind := func(key, flag string) {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	bind("server.host", "host")
	bind("server.port", "port")
	bind("server.api_key", "api-key")
	bind("browser.headless", "headless")
	bind("log.level", "log-level")
	bind("log.format", "log-format")
}

func serve(cmd *cobra.Command, configPath string) error {
	v := config.New()
	bindFlags(v, cmd)
	if err := config.Load(v, configPath); err != nil {
		return err
	}

	handler, lv, err := config.LogHandler(v, os.Stderr)
	if err != nil {
		return err
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	if configPath != "" {
		config.WatchLevel(v, lv, log)
	}

	srvCfg := config.ServerConfig(v)
	if err := srvCfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()

	b, err := browser.Connect(config.BrowserConfig(v), log)
	if err != nil {
		return err
	}
	defer b.Close()

	pool := browser.NewPool(b, config.PoolConfig(v), log)
	defer pool.Close(context.Background())
	if err := pool.Warm(ctx); err != nil {
		log.Warn("context pool warm-up incomplete", "error", err)
	}

	limiter := ratelimit.New(config.RateLimitConfig(v), log)
	defer limiter.Close()

	var recorder *transcript.Recorder
	if trCfg := config.TranscriptConfig(v); trCfg != nil {
		var uploader transcript.Uploader
		if trCfg.Bucket != "" {
			var awsOpts []func(*awsconfig.LoadOptions) error
			if region := v.GetString("transcript.s3_region"); region != "" {
				awsOpts = append(awsOpts, awsconfig.WithRegion(region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			uploader = transcript.NewS3Archiver(s3.NewFromConfig(awsCfg), trCfg.Bucket, trCfg.Prefix)
		}
		if recorder, err = transcript.New(trCfg, uploader, log); err != nil {
			return err
		}
	}

	srv := server.New(srvCfg, server.Deps{
		Sessions:    session.NewManager(pool, config.SessionConfig(v), log),
		Cache:       cache.New(config.CacheConfig(v), log),
		Limiter:     limiter,
		Sanitizer:   sanitize.New(config.SanitizerConfig(v)),
		Runner:      executor.New(log),
		Metrics:     metrics.New(),
		Transcripts: recorder,
		Pool:        pool,
		Logger:      log,
	})
	return srv.Run()
}
