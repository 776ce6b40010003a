package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ServerSection is the [server] table of the broker's config file.
type ServerSection struct {
	Addr            string `toml:"addr"`
	ReadLimitBytes  int64  `toml:"read_limit_bytes"`
	SendQueue       int    `toml:"send_queue"`
	PongWaitSeconds int    `toml:"pong_wait_seconds"`
	AllowedOrigins  string `toml:"allowed_origins"`
	ShutdownSeconds int    `toml:"shutdown_seconds"`
}

type serverFile struct {
	Server ServerSection `toml:"server"`
}

// Server is the resolved broker configuration.
type Server struct {
	Addr            string
	ReadLimit       int64
	SendQueue       int
	PongWait        time.Duration
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// LoadServer resolves the broker configuration. Values come from the TOML
// file at path when set, then from the environment (including a .env file
// in the working directory), then from defaults. A missing file is not an error.
func LoadServer(path string) (*Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	var file serverFile
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(content, &file); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	sec := file.Server

	origins := sec.AllowedOrigins
	if origins == "" {
		origins = envString("WEBCHAT_ALLOWED_ORIGINS", "*")
	}

	return &Server{
		Addr:            tomlOrEnv(sec.Addr, "WEBCHAT_ADDR", ":8080"),
		ReadLimit:       int64(intOrEnv(int(sec.ReadLimitBytes), "WEBCHAT_READ_LIMIT", 8*1024*1024)),
		SendQueue:       intOrEnv(sec.SendQueue, "WEBCHAT_SEND_QUEUE", 256),
		PongWait:        time.Duration(intOrEnv(sec.PongWaitSeconds, "WEBCHAT_PONG_WAIT", 60)) * time.Second,
		AllowedOrigins:  splitList(origins),
		ShutdownTimeout: time.Duration(intOrEnv(sec.ShutdownSeconds, "WEBCHAT_SHUTDOWN_TIMEOUT", 10)) * time.Second,
	}, nil
}

func tomlOrEnv(tomlVal, env, fallback string) string {
	if tomlVal != "" {
		return tomlVal
	}
	return envString(env, fallback)
}

func intOrEnv(tomlVal int, env string, fallback int) int {
	if tomlVal > 0 {
		return tomlVal
	}
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("ignoring invalid integer", "env", env, "value", v)
	}
	return fallback
}

func envString(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
