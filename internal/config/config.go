package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds every runtime setting for the arena server. All values come
// from the environment; REDIS_URL is the only hard requirement.
type AppConfig struct {
	WSAddr  string
	APIAddr string

	RedisURL    string
	DatabaseURL string

	// RatingWindow is the max absolute rating difference for a pairing.
	RatingWindow int
	// DefaultTimeControl is the per-side clock in seconds when a findMatch
	// request carries none.
	DefaultTimeControl int
	// ReconnectGrace is how long a disconnected player may return before the
	// session is abandoned (pre-start) or forfeited (mid-game).
	ReconnectGrace time.Duration
	// HeartbeatInterval is the server-side ping cadence per connection.
	HeartbeatInterval time.Duration

	// MsgTemplateDir optionally overrides the embedded message catalog.
	MsgTemplateDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		WSAddr:             ":8080",
		APIAddr:            ":8081",
		RatingWindow:       100,
		DefaultTimeControl: 600,
		ReconnectGrace:     30 * time.Second,
		HeartbeatInterval:  25 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("API_ADDR")); v != "" {
		cfg.APIAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("RATING_WINDOW")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingWindow = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultTimeControl = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECONNECT_GRACE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconnectGrace = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("HEARTBEAT_INTERVAL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HeartbeatInterval = time.Duration(n) * time.Second
		}
	}

	cfg.MsgTemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
