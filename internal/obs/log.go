package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newJSONLogger(os.Stdout)
	}
	return logger
}

// SetOutput redirects the shared logger. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	logger = newJSONLogger(w)
	loggerMu.Unlock()
}

// SetLevel accepts debug, info, warn or error; anything else means info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func newJSONLogger(w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			if len(groups) == 0 && a.Key == slog.LevelKey {
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return slog.New(h)
}
