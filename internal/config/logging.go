package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LogHandler builds the root log handler from log.level and
// log.format. The returned LevelVar allows the level to be changed
// while the gateway is running.
func LogHandler(v *viper.Viper, w io.Writer) (slog.Handler, *slog.LevelVar, error) {
	lv := new(slog.LevelVar)
	if err := lv.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, nil, fmt.Errorf("config: parse log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lv}
	switch format := v.GetString("log.format"); format {
	case "text":
		return slog.NewTextHandler(w, opts), lv, nil
	case "json":
		return slog.NewJSONHandler(w, opts), lv, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown log.format %q", format)
	}
}

// WatchLevel re-applies log.level whenever the config file on disk
// changes. Call it only after Load read an actual file.
func WatchLevel(v *viper.Viper, lv *slog.LevelVar, log *slog.Logger) {
	v.OnConfigChange(func(fsnotify.Event) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
			log.Warn("ignoring invalid log.level on reload", "error", err)
			return
		}
		if level != lv.Level() {
			lv.Set(level)
			log.Info("log level changed", "level", level.String())
		}
	})
	v.WatchConfig()
}
