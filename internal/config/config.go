package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPath is where the client looks for its config file.
const DefaultPath = "data/client_config.json"

const envPrefix = "TICTACTOE_"

// Store backends for coordination records.
const (
	StoreNakama = "nakama"
	StoreRedis  = "redis"
)

type ServerConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	ServerKey             string `json:"server_key"`
	UseSSL                bool   `json:"use_ssl"`
	Format                string `json:"format"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	PingIntervalSeconds   int    `json:"ping_interval_seconds"`
}

type MatchmakingConfig struct {
	Query    string `json:"query"`
	MinCount int    `json:"min_count"`
	MaxCount int    `json:"max_count"`
	// PollAttempts and PollIntervalMillis bound how long a non-creator waits
	// for the creator's coordination record.
	PollAttempts       int    `json:"poll_attempts"`
	PollIntervalMillis int    `json:"poll_interval_millis"`
	StoreBackend       string `json:"store_backend"`
	RedisURL           string `json:"redis_url"`
	RecordTTLSeconds   int    `json:"record_ttl_seconds"`
}

type SessionConfig struct {
	// DisplayDelayMillis of 0 uses the 800ms default.
	DisplayDelayMillis int  `json:"display_delay_millis"`
	OptimisticMoves    bool `json:"optimistic_moves"`
	EventBuffer        int  `json:"event_buffer"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type Config struct {
	Server       ServerConfig      `json:"server"`
	Matchmaking  MatchmakingConfig `json:"matchmaking"`
	Session      SessionConfig     `json:"session"`
	Log          LogConfig         `json:"log"`
	DeviceIDPath string            `json:"device_id_path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                  "127.0.0.1",
			Port:                  7350,
			ServerKey:             "defaultkey",
			Format:                "json",
			RequestTimeoutSeconds: 10,
			PingIntervalSeconds:   15,
		},
		Matchmaking: MatchmakingConfig{
			Query:              "*",
			MinCount:           2,
			MaxCount:           2,
			PollAttempts:       10,
			PollIntervalMillis: 500,
			StoreBackend:       StoreNakama,
			RecordTTLSeconds:   300,
		},
		Session: SessionConfig{
			DisplayDelayMillis: 800,
			EventBuffer:        64,
		},
		Log:          LogConfig{Level: "info"},
		DeviceIDPath: "data/device_id",
	}
}

// Load reads the config file at path over the defaults, then applies
// TICTACTOE_* environment overrides, loading a .env file first if present.
// A missing file at DefaultPath is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("failed to unmarshal client config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		default:
			return Config{}, fmt.Errorf("failed to read client config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyEnv(c *Config) error {
	strs := map[string]*string{
		"HOST":           &c.Server.Host,
		"SERVER_KEY":     &c.Server.ServerKey,
		"FORMAT":         &c.Server.Format,
		"QUERY":          &c.Matchmaking.Query,
		"STORE_BACKEND":  &c.Matchmaking.StoreBackend,
		"REDIS_URL":      &c.Matchmaking.RedisURL,
		"LOG_LEVEL":      &c.Log.Level,
		"DEVICE_ID_PATH": &c.DeviceIDPath,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"PORT":                 &c.Server.Port,
		"POLL_ATTEMPTS":        &c.Matchmaking.PollAttempts,
		"POLL_INTERVAL_MILLIS": &c.Matchmaking.PollIntervalMillis,
		"DISPLAY_DELAY_MILLIS": &c.Session.DisplayDelayMillis,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"USE_SSL":          &c.Server.UseSSL,
		"OPTIMISTIC_MOVES": &c.Session.OptimisticMoves,
		"LOG_DEVELOPMENT":  &c.Log.Development,
	}
	for name, dst := range bools {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = b
	}
	return nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Format != "json" && c.Server.Format != "protobuf" {
		return fmt.Errorf("server.format must be json or protobuf, got %q", c.Server.Format)
	}
	if c.Matchmaking.MinCount < 2 || c.Matchmaking.MaxCount < c.Matchmaking.MinCount {
		return fmt.Errorf("matchmaking counts %d..%d are invalid", c.Matchmaking.MinCount, c.Matchmaking.MaxCount)
	}
	if c.Matchmaking.PollAttempts <= 0 || c.Matchmaking.PollIntervalMillis <= 0 {
		return fmt.Errorf("matchmaking poll attempts and interval must be positive")
	}
	switch c.Matchmaking.StoreBackend {
	case StoreNakama:
	case StoreRedis:
		if c.Matchmaking.RedisURL == "" {
			return fmt.Errorf("matchmaking.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown matchmaking.store_backend %q", c.Matchmaking.StoreBackend)
	}
	if c.Session.DisplayDelayMillis < 0 {
		return fmt.Errorf("session.display_delay_millis must not be negative")
	}
	return nil
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (s ServerConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalSeconds) * time.Second
}

func (m MatchmakingConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMillis) * time.Millisecond
}

func (m MatchmakingConfig) RecordTTL() time.Duration {
	return time.Duration(m.RecordTTLSeconds) * time.Second
}

func (s SessionConfig) DisplayDelay() time.Duration {
	return time.Duration(s.DisplayDelayMillis) * time.Millisecond
}
