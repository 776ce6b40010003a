package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default client configuration values
const (
	DefaultServer = "localhost:8080"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds the chat client configuration
type Config struct {
	// Server is the broker host:port
	Server string
	// Secure selects wss/https instead of ws/http
	Secure bool

	// ICE servers for the direct link
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// Name is the display name announced on join. Empty picks a nickname.
	Name string
	// DownloadDir receives incoming files
	DownloadDir string
	// RelayOnly disables direct links
	RelayOnly bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server      string
	Secure      bool
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	Name        string
	DownloadDir string
	RelayOnly   bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := pick(opts.Server, "WEBCHAT_SERVER", DefaultServer)
	if strings.Contains(server, "://") {
		return nil, fmt.Errorf("server must be host[:port], got %q", server)
	}

	dir := pick(opts.DownloadDir, "WEBCHAT_DOWNLOADS", ".")

	return &Config{
		Server:      server,
		Secure:      opts.Secure || os.Getenv("WEBCHAT_SECURE") == "1",
		STUNServer:  pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:  pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", ""),
		Name:        pick(opts.Name, "WEBCHAT_NAME", ""),
		DownloadDir: dir,
		RelayOnly:   opts.RelayOnly || os.Getenv("WEBCHAT_RELAY_ONLY") == "1",
	}, nil
}

func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// RoomURL returns the websocket URL for joining roomID
func (c *Config) RoomURL(roomID string) string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Server, Path: "/ws"}
	u.RawQuery = url.Values{"room": {roomID}}.Encode()
	return u.String()
}

// StatsURL returns the HTTP endpoint reporting roomID's roster
func (c *Config) StatsURL(roomID string) string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	u := url.URL{
		Scheme:  scheme,
		Host:    c.Server,
		Path:    "/rooms/" + roomID + "/stats",
		RawPath: "/rooms/" + url.PathEscape(roomID) + "/stats",
	}
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return strings.Split(c.STUNServer, ",")
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
