package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
)

const (
	defaultConfigPath = "~/.config/ferrysync/config.toml"
	defaultDataDir    = "~/.local/share/ferrysync"
	defaultAPIURL     = "http://127.0.0.1:8080/api"
	defaultPushURL    = "ws://127.0.0.1:8080/ws/availability"
	defaultLogLevel   = "info"

	defaultCacheTTL             = 24 * time.Hour
	defaultMaxRetry             = 3
	defaultHeartbeatInterval    = 30 * time.Second
	defaultReconnectDelay       = 3 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultProbeInterval        = 5 * time.Second
	defaultWriteRetries         = 3
	defaultRetryBaseDelay       = 20 * time.Millisecond
	defaultRetryMaxDelay        = 250 * time.Millisecond
)

// Environment variables that override file values.
const (
	EnvDataDir  = "FERRYSYNC_DATA_DIR"
	EnvAPIURL   = "FERRYSYNC_API_URL"
	EnvPushURL  = "FERRYSYNC_PUSH_URL"
	EnvLogLevel = "FERRYSYNC_LOG_LEVEL"
)

// Config is the resolved configuration.
type Config struct {
	DataDir   string
	APIURL    string
	PushURL   string
	HealthURL string
	LogLevel  string

	CacheTTL     time.Duration
	MaxRetry     int
	MaxQueueSize int

	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	ProbeInterval time.Duration

	// Store write retries on SQLite lock contention.
	WriteRetries   int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// file mirrors the TOML layout.
type file struct {
	DataDir   string `toml:"data_dir,omitempty"`
	APIURL    string `toml:"api_url,omitempty"`
	PushURL   string `toml:"push_url,omitempty"`
	HealthURL string `toml:"health_url,omitempty"`
	LogLevel  string `toml:"log_level,omitempty"`

	Cache struct {
		TTL string `toml:"ttl,omitempty"`
	} `toml:"cache"`
	Queue struct {
		MaxRetry *int `toml:"max_retry,omitempty"`
		MaxSize  *int `toml:"max_size,omitempty"`
	} `toml:"queue"`
	Push struct {
		HeartbeatInterval    string `toml:"heartbeat_interval,omitempty"`
		ReconnectDelay       string `toml:"reconnect_delay,omitempty"`
		MaxReconnectAttempts *int   `toml:"max_reconnect_attempts,omitempty"`
	} `toml:"push"`
	Connectivity struct {
		ProbeInterval string `toml:"probe_interval,omitempty"`
	} `toml:"connectivity"`
	Storage struct {
		WriteRetries   *int   `toml:"write_retries,omitempty"`
		RetryBaseDelay string `toml:"retry_base_delay,omitempty"`
		RetryMaxDelay  string `toml:"retry_max_delay,omitempty"`
	} `toml:"storage"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:              mustExpand(defaultDataDir),
		APIURL:               defaultAPIURL,
		PushURL:              defaultPushURL,
		LogLevel:             defaultLogLevel,
		CacheTTL:             defaultCacheTTL,
		MaxRetry:             defaultMaxRetry,
		HeartbeatInterval:    defaultHeartbeatInterval,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		ProbeInterval:        defaultProbeInterval,
		WriteRetries:         defaultWriteRetries,
		RetryBaseDelay:       defaultRetryBaseDelay,
		RetryMaxDelay:        defaultRetryMaxDelay,
	}
}

// Load reads the config at path (the default location when empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	f, err := os.Open(resolved)
	switch {
	case err == nil:
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return Config{}, apperrors.Wrap(apperrors.ErrConfig, "read config", err)
		}
		if err := cfg.merge(data); err != nil {
			return Config{}, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, apperrors.Wrap(apperrors.ErrConfig, "open config", err)
	}

	cfg.applyEnv(getenv)
	cfg.DataDir = mustExpand(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	var raw file
	if err := toml.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "parse config", err)
	}

	setString(&c.DataDir, raw.DataDir)
	setString(&c.APIURL, raw.APIURL)
	setString(&c.PushURL, raw.PushURL)
	setString(&c.HealthURL, raw.HealthURL)
	setString(&c.LogLevel, raw.LogLevel)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cache.ttl", raw.Cache.TTL, &c.CacheTTL},
		{"push.heartbeat_interval", raw.Push.HeartbeatInterval, &c.HeartbeatInterval},
		{"push.reconnect_delay", raw.Push.ReconnectDelay, &c.ReconnectDelay},
		{"connectivity.probe_interval", raw.Connectivity.ProbeInterval, &c.ProbeInterval},
		{"storage.retry_base_delay", raw.Storage.RetryBaseDelay, &c.RetryBaseDelay},
		{"storage.retry_max_delay", raw.Storage.RetryMaxDelay, &c.RetryMaxDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, "parse "+d.name, err)
		}
		*d.dst = v
	}

	setInt(&c.MaxRetry, raw.Queue.MaxRetry)
	setInt(&c.MaxQueueSize, raw.Queue.MaxSize)
	setInt(&c.MaxReconnectAttempts, raw.Push.MaxReconnectAttempts)
	setInt(&c.WriteRetries, raw.Storage.WriteRetries)
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString(&c.DataDir, getenv(EnvDataDir))
	setString(&c.APIURL, getenv(EnvAPIURL))
	setString(&c.PushURL, getenv(EnvPushURL))
	setString(&c.LogLevel, getenv(EnvLogLevel))
}

// Validate rejects non-positive durations and counts.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.DataDir) == "":
		return apperrors.New(apperrors.ErrConfig, "data_dir must not be empty")
	case strings.TrimSpace(c.APIURL) == "":
		return apperrors.New(apperrors.ErrConfig, "api_url must not be empty")
	case c.CacheTTL <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "cache.ttl must be positive, got %s", c.CacheTTL)
	case c.MaxRetry <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "queue.max_retry must be positive, got %d", c.MaxRetry)
	case c.MaxQueueSize < 0:
		return apperrors.Newf(apperrors.ErrConfig, "queue.max_size must not be negative, got %d", c.MaxQueueSize)
	case c.HeartbeatInterval <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "push.heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	case c.ReconnectDelay <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "push.reconnect_delay must be positive, got %s", c.ReconnectDelay)
	case c.MaxReconnectAttempts <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "push.max_reconnect_attempts must be positive, got %d", c.MaxReconnectAttempts)
	case c.ProbeInterval <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "connectivity.probe_interval must be positive, got %s", c.ProbeInterval)
	case c.WriteRetries < 0:
		return apperrors.Newf(apperrors.ErrConfig, "storage.write_retries must not be negative, got %d", c.WriteRetries)
	case c.RetryBaseDelay <= 0:
		return apperrors.Newf(apperrors.ErrConfig, "storage.retry_base_delay must be positive, got %s", c.RetryBaseDelay)
	case c.RetryMaxDelay < c.RetryBaseDelay:
		return apperrors.Newf(apperrors.ErrConfig, "storage.retry_max_delay must be at least retry_base_delay, got %s", c.RetryMaxDelay)
	}
	return nil
}

// TOML renders the configuration in the file format.
func (c Config) TOML() ([]byte, error) {
	var raw file
	raw.DataDir = c.DataDir
	raw.APIURL = c.APIURL
	raw.PushURL = c.PushURL
	raw.HealthURL = c.HealthURL
	raw.LogLevel = c.LogLevel
	raw.Cache.TTL = c.CacheTTL.String()
	raw.Queue.MaxRetry = &c.MaxRetry
	raw.Queue.MaxSize = &c.MaxQueueSize
	raw.Push.HeartbeatInterval = c.HeartbeatInterval.String()
	raw.Push.ReconnectDelay = c.ReconnectDelay.String()
	raw.Push.MaxReconnectAttempts = &c.MaxReconnectAttempts
	raw.Connectivity.ProbeInterval = c.ProbeInterval.String()
	raw.Storage.WriteRetries = &c.WriteRetries
	raw.Storage.RetryBaseDelay = c.RetryBaseDelay.String()
	raw.Storage.RetryMaxDelay = c.RetryMaxDelay.String()

	data, err := toml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

func setString(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", apperrors.New(apperrors.ErrConfig, "path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrConfig, "resolve home dir", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
