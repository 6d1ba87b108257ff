package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != "memory" || cfg.StreamHeartbeat != 15*time.Second || cfg.CascadeMaxAttempts != 5 || cfg.SubtreeMaxDepth != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.yaml")
	body := "storageBackend: sqlite\nsqlitePath: /tmp/x.db\nstreamBuffer: 8\nstreamHeartbeat: 30s\nsubtreeMaxDepth: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, envMap(map[string]string{
		"STREAM_BUFFER": "16",
		"DEBUG":         "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != "sqlite" || cfg.SQLitePath != "/tmp/x.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.StreamBuffer != 16 {
		t.Fatalf("env must win over file, got %d", cfg.StreamBuffer)
	}
	if cfg.StreamHeartbeat != 30*time.Second || cfg.SubtreeMaxDepth != 10 || !cfg.Debug {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":          {"STREAM_BUFFER": "many"},
		"zero buffer":      {"STREAM_BUFFER": "0"},
		"bad duration":     {"CACHE_TTL": "soon"},
		"negative ttl":     {"DEDUPER_TTL": "-1s"},
		"unknown backend":  {"STORAGE_BACKEND": "mongo"},
		"redis no conn":    {"STORAGE_BACKEND": "redis"},
		"tables no conn":   {"STORAGE_BACKEND": "aztables"},
		"queue no conn":    {"EVENTS_QUEUE": "events"},
		"auth0 no domain":  {"AUTH_MODE": "auth0"},
		"test no secret":   {"AUTH_MODE": "test"},
		"unknown auth":     {"AUTH_MODE": "basic"},
		"bad debug":        {"DEBUG": "maybe"},
		"zero depth":       {"SUBTREE_MAX_DEPTH": "0"},
		"zero cas retries": {"CASCADE_MAX_ATTEMPTS": "0"},
	}
	for name, env := range cases {
		if _, err := Load("", envMap(env)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = RedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("azure style: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" || opts.Password != "pw" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
