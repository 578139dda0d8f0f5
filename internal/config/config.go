// Package config provides configuration loading from environment
// and defaults for the sensor binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/hostauth-sensor/pkg/monitor"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvList splits a comma separated value, dropping empty items.
// defaultValue is used when the variable is unset or yields no items.
func GetEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}

// SensorConfig holds configuration for the server and agent binaries.
type SensorConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	HostRoot     string
	AuthLogPaths []string
	MaxLogLines  int

	WhoCommand     string
	LastCommand    string
	SessionTimeout time.Duration
	HistoryTimeout time.Duration

	LoginLimit  int
	FailedLimit int
	SudoLimit   int

	CacheTTL     time.Duration
	WatchAuthLog bool
	CORSOrigins  []string
	ScanInterval time.Duration

	// Per-client request budget for the API; zero requests disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DefaultSensorConfig returns sensor config from environment with defaults.
func DefaultSensorConfig() SensorConfig {
	limit := GetEnvInt("SECURITY_LIMIT", 10)
	cacheSeconds := GetEnvInt("SYSTEM_CACHE_SECONDS", 5)
	return SensorConfig{
		HTTPAddr:        GetEnv("HTTP_ADDR", ":5001"),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		HostRoot:        GetEnv("HOST_ROOT", "/"),
		AuthLogPaths:    GetEnvList("AUTH_LOG_PATHS", defaultAuthLogPaths()),
		MaxLogLines:     GetEnvInt("AUTH_LOG_MAX_LINES", 5000),
		WhoCommand:      GetEnv("WHO_COMMAND", "who"),
		LastCommand:     GetEnv("LAST_COMMAND", "last"),
		SessionTimeout:  GetEnvDuration("SESSION_TIMEOUT", 2*time.Second),
		HistoryTimeout:  GetEnvDuration("HISTORY_TIMEOUT", 3*time.Second),
		LoginLimit:      GetEnvInt("LOGIN_LIMIT", limit),
		FailedLimit:     GetEnvInt("FAILED_LIMIT", limit),
		SudoLimit:       GetEnvInt("SUDO_LIMIT", limit),
		CacheTTL:        GetEnvDuration("CACHE_TTL", time.Duration(cacheSeconds)*time.Second),
		WatchAuthLog:    GetEnvBool("WATCH_AUTH_LOG", true),
		CORSOrigins:     GetEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		ScanInterval:    GetEnvDuration("SCAN_INTERVAL", 60*time.Second),

		RateLimitRequests: GetEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func defaultAuthLogPaths() []string {
	return []string{"/var/log/auth.log", "/var/log/secure"}
}

// MonitorConfig returns the collection settings for pkg/monitor.
func (c SensorConfig) MonitorConfig() *monitor.Config {
	return &monitor.Config{
		HostRoot:       c.HostRoot,
		AuthLogPaths:   c.AuthLogPaths,
		MaxLogLines:    c.MaxLogLines,
		WhoCommand:     c.WhoCommand,
		LastCommand:    c.LastCommand,
		SessionTimeout: c.SessionTimeout,
		HistoryTimeout: c.HistoryTimeout,
		LoginLimit:     c.LoginLimit,
		FailedLimit:    c.FailedLimit,
		SudoLimit:      c.SudoLimit,
	}
}

// NewLogger returns a JSON logger at the configured level. Unknown levels
// fall back to info.
func (c SensorConfig) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
