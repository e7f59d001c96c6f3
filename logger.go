package chronolog

import (
	"io"
	"log/slog"
	"os"
)

// newLogger builds the slog.Logger a Handle's query-path operations log
// through, selecting level and handler format from cfg — the same
// level/format knobs cmd/vista/main.go's initLogger read from
// GITVISTA_LOG_LEVEL/GITVISTA_LOG_FORMAT, renamed to the CHRONOLOG_*
// namespace and routed through config.json instead of raw env lookups so a
// repository's logging can be pinned in its own config file.
func newLogger(cfg Config) *slog.Logger {
	return newLoggerTo(cfg, os.Stderr)
}

// newDaemonLogger builds the slog.Logger the running daemon logs through,
// writing to w (a rotating lumberjack.Logger) instead of stderr — the
// daemon's own bounded log file is a separate stream from the stderr a
// short-lived query call logs to.
func newDaemonLogger(cfg Config, w io.Writer) *slog.Logger {
	return newLoggerTo(cfg, w)
}

func newLoggerTo(cfg Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
