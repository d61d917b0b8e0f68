// Package config loads server configuration from .env files and the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration. Provider credentials are not listed here;
// each adapter reads its own variables.
type Config struct {
	ListenAddr         string
	PublicURL          string
	DatabasePath       string
	DefaultTTSProvider string
	DefaultSTTProvider string
	SettingsFile       string
	LogLevel           string
	LogDevelopment     bool
	STTWorkers         int
	STTQueue           int
	ShutdownTimeout    time.Duration
	FeedOrigins        []string
}

const (
	defaultListenAddr      = ":8080"
	defaultDatabasePath    = "data/followup.db"
	defaultTTSProvider     = "plivo"
	defaultSTTProvider     = "deepgram"
	defaultLogLevel        = "info"
	defaultSTTWorkers      = 4
	defaultSTTQueue        = 64
	defaultShutdownTimeout = 20 * time.Second
)

// Load reads the first .env found (working directory, then next to the binary) and
// then the process environment. Variables already set win over the file.
func Load() (*Config, error) {
	return load(envPaths())
}

func load(paths []string) (*Config, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			break
		}
	}

	cfg := &Config{
		ListenAddr:         getEnvString("LISTEN_ADDR", defaultListenAddr),
		PublicURL:          strings.TrimRight(getEnvString("PUBLIC_URL", ""), "/"),
		DatabasePath:       getEnvString("DATABASE_PATH", defaultDatabasePath),
		DefaultTTSProvider: strings.ToLower(getEnvString("DEFAULT_TTS_PROVIDER", defaultTTSProvider)),
		DefaultSTTProvider: strings.ToLower(getEnvString("DEFAULT_STT_PROVIDER", defaultSTTProvider)),
		SettingsFile:       getEnvString("SETTINGS_FILE", ""),
		LogLevel:           getEnvString("LOG_LEVEL", defaultLogLevel),
		LogDevelopment:     getEnvBool("LOG_DEVELOPMENT", false),
		STTWorkers:         getEnvInt("STT_WORKERS", defaultSTTWorkers),
		STTQueue:           getEnvInt("STT_QUEUE", defaultSTTQueue),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		FeedOrigins:        getEnvList("FEED_ALLOWED_ORIGINS"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields the server cannot start without.
func (c *Config) Validate() error {
	if c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required (the telephony platform calls back to it)")
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL %q must be an absolute http(s) url", c.PublicURL)
	}
	if c.STTWorkers < 1 || c.STTQueue < 1 {
		return fmt.Errorf("STT_WORKERS and STT_QUEUE must be positive")
	}
	return nil
}

func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), ".env"))
	}
	return paths
}

func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
