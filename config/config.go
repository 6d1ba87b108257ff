// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service.
type Config struct {
	Debug      bool   `yaml:"debug"`
	ListenAddr string `yaml:"listenAddr"`

	StorageBackend   string `yaml:"storageBackend"`
	SQLitePath       string `yaml:"sqlitePath"`
	ConnectionString string `yaml:"storageConnectionString"`
	EntitiesTable    string `yaml:"entitiesTable"`
	EventsQueue      string `yaml:"eventsQueue"`

	RedisConnection string        `yaml:"redisConnectionString"`
	CacheTTL        time.Duration `yaml:"cacheTTL"`
	DeduperTTL      time.Duration `yaml:"deduperTTL"`

	StreamBuffer    int           `yaml:"streamBuffer"`
	StreamHeartbeat time.Duration `yaml:"streamHeartbeat"`
	StreamChannel   string        `yaml:"streamChannel"`

	CascadeMaxAttempts int `yaml:"cascadeMaxAttempts"`
	SubtreeMaxDepth    int `yaml:"subtreeMaxDepth"`

	AuthMode      string `yaml:"authMode"`
	Auth0Domain   string `yaml:"auth0Domain"`
	Auth0Audience string `yaml:"auth0Audience"`
	// TestJWTSecret signs HS256 tokens when AuthMode is "test".
	TestJWTSecret string        `yaml:"testJwtSecret"`
	JWKSCacheTTL  time.Duration `yaml:"jwksCacheTTL"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		StorageBackend:     "memory",
		SQLitePath:         "data/prism.db",
		EntitiesTable:      "entities",
		CacheTTL:           5 * time.Minute,
		DeduperTTL:         24 * time.Hour,
		StreamBuffer:       64,
		StreamHeartbeat:    15 * time.Second,
		StreamChannel:      "prism:events",
		CascadeMaxAttempts: 5,
		SubtreeMaxDepth:    64,
		AuthMode:           "none",
		JWKSCacheTTL:       15 * time.Minute,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment looked up through getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("STORAGE_BACKEND", &c.StorageBackend)
	str("SQLITE_PATH", &c.SQLitePath)
	str("STORAGE_CONNECTION_STRING", &c.ConnectionString)
	str("ENTITIES_TABLE", &c.EntitiesTable)
	str("EVENTS_QUEUE", &c.EventsQueue)
	str("REDIS_CONNECTION_STRING", &c.RedisConnection)
	str("STREAM_CHANNEL", &c.StreamChannel)
	str("AUTH_MODE", &c.AuthMode)
	str("AUTH0_DOMAIN", &c.Auth0Domain)
	str("AUTH0_AUDIENCE", &c.Auth0Audience)
	str("TEST_JWT_SECRET", &c.TestJWTSecret)

	if v := getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
		c.Debug = dbg
	}
	for name, dst := range map[string]*time.Duration{
		"CACHE_TTL":        &c.CacheTTL,
		"DEDUPER_TTL":      &c.DeduperTTL,
		"STREAM_HEARTBEAT": &c.StreamHeartbeat,
		"JWKS_CACHE_TTL":   &c.JWKSCacheTTL,
	} {
		if err := envDur(getenv, name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*int{
		"STREAM_BUFFER":        &c.StreamBuffer,
		"CASCADE_MAX_ATTEMPTS": &c.CascadeMaxAttempts,
		"SUBTREE_MAX_DEPTH":    &c.SubtreeMaxDepth,
	} {
		if err := envInt(getenv, name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case "memory", "sqlite":
	case "redis":
		if c.RedisConnection == "" {
			return fmt.Errorf("storage backend redis requires REDIS_CONNECTION_STRING")
		}
	case "aztables":
		if c.ConnectionString == "" || c.EntitiesTable == "" {
			return fmt.Errorf("storage backend aztables requires STORAGE_CONNECTION_STRING and ENTITIES_TABLE")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.EventsQueue != "" && c.ConnectionString == "" {
		return fmt.Errorf("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	switch c.AuthMode {
	case "none":
	case "test":
		if c.TestJWTSecret == "" {
			return fmt.Errorf("TEST_JWT_SECRET must be set when AUTH_MODE=test")
		}
	case "auth0":
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			return fmt.Errorf("missing Auth0 config")
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE %q", c.AuthMode)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("invalid STREAM_BUFFER: must be greater than zero")
	}
	if c.StreamHeartbeat <= 0 {
		return fmt.Errorf("invalid STREAM_HEARTBEAT: must be greater than zero")
	}
	if c.CascadeMaxAttempts <= 0 {
		return fmt.Errorf("invalid CASCADE_MAX_ATTEMPTS: must be greater than zero")
	}
	if c.SubtreeMaxDepth <= 0 {
		return fmt.Errorf("invalid SUBTREE_MAX_DEPTH: must be greater than zero")
	}
	return nil
}

func envInt(getenv func(string) string, name string, dst *int) error {
	v := getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDur(getenv func(string) string, name string, dst *time.Duration) error {
	v := getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s: must not be negative", name)
	}
	*dst = d
	return nil
}

// RedisOptions accepts either a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
