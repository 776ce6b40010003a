package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger for the terminal client, which stays
// quiet unless LOG_LEVEL asks otherwise.
func Init() {
	InitWithDefault(slog.LevelError)
}

// InitWithDefault installs a text logger on stderr at LOG_LEVEL, or at
// fallback when LOG_LEVEL is unset or unknown.
func InitWithDefault(fallback slog.Level) {
	slog.SetDefault(New(os.Stderr, Level(fallback)))
}

// New returns a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
}

// Level resolves LOG_LEVEL.
func Level(fallback slog.Level) slog.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return fallback
	}
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return fallback
	}
}
