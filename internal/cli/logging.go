package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/KafClaw/groupjournal/internal/config"
)

// parseLevel maps a config level name onto slog. Unknown names fall back to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogHandler(cfg config.LogConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// setupLogging installs the default logger. Logs go to w (stderr in
// practice) so commands printing JSON keep stdout clean.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	slog.SetDefault(slog.New(newLogHandler(cfg, w)))
}
