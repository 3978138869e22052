package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxTimeControlMinutes = 180

type AppConfig struct {
	WSAddr   string
	WSPath   string
	HTTPAddr string

	RedisURL string

	DefaultTimeControl  int
	AllowedTimeControls []int
	TickInterval        time.Duration

	AllowedOrigins []string
	MessagesDir    string

	LogLevel   string
	LogFormat  string
	LogConsole bool
	LogFile    string
	LogCaller  bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		WSAddr:              ":8081",
		WSPath:              "/ws",
		HTTPAddr:            ":8080",
		DefaultTimeControl:  3,
		AllowedTimeControls: []int{1, 3, 5, 10},
		TickInterval:        time.Second,
		LogLevel:            "info",
		LogFormat:           "legacy",
		LogConsole:          true,
		LogFile:             filepath.Join("logs", "server.log"),
	}

	if v := env("WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := env("WS_PATH"); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.WSPath = v
	}
	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.RedisURL = env("REDIS_URL")
	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return nil, fmt.Errorf("unsupported REDIS_URL scheme: %s", u.Scheme)
		}
	}

	if v, ok := os.LookupEnv("ALLOWED_TIME_CONTROLS"); ok {
		cfg.AllowedTimeControls = parseIntList(v)
	}
	if v := env("DEFAULT_TIME_CONTROL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultTimeControl = n
		}
	}
	if !cfg.TimeControlAllowed(cfg.DefaultTimeControl) {
		return nil, fmt.Errorf("DEFAULT_TIME_CONTROL %d not in ALLOWED_TIME_CONTROLS", cfg.DefaultTimeControl)
	}
	if v := env("TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickInterval = time.Duration(n) * time.Millisecond
		}
	}

	cfg.AllowedOrigins = splitList(env("ALLOWED_ORIGINS"))
	cfg.MessagesDir = env("MESSAGES_DIR")

	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := env("LOG_TO_CONSOLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogConsole = b
		}
	}
	if v := env("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := env("LOG_TO_FILE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && !b {
			cfg.LogFile = ""
		}
	}
	if v := env("LOG_CALLER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogCaller = b
		}
	}

	return cfg, nil
}

// TimeControlAllowed reports whether minutes is a selectable time control.
// An empty allow-list accepts any value in 1..180.
func (c *AppConfig) TimeControlAllowed(minutes int) bool {
	if minutes <= 0 || minutes > maxTimeControlMinutes {
		return false
	}
	if len(c.AllowedTimeControls) == 0 {
		return true
	}
	for _, n := range c.AllowedTimeControls {
		if n == minutes {
			return true
		}
	}
	return false
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseIntList(v string) []int {
	var out []int
	for _, s := range splitList(v) {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}
