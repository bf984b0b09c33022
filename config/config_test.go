package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if !cfg.Enabled || cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 7090 || cfg.Server.ContextPath != "/eidolon" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if !cfg.WebSocket.Enabled || cfg.WebSocket.IntervalMS != 1000 {
		t.Fatalf("unexpected websocket defaults: %+v", cfg.WebSocket)
	}
	if cfg.Events.BufferSize != 1024 || cfg.Collect.StringTable {
		t.Fatalf("unexpected event/collect defaults")
	}
	if len(cfg.Filters.MemoryPools)+len(cfg.Filters.EventSources)+len(cfg.Filters.ThreadNamePrefixes) != 0 {
		t.Fatalf("expected empty filters by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadSingleFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "eidolon.yaml", `server:
  port: 8088
  context_path: "metrics/"
collect:
  string_table: true
filters:
  memory_pools: ["heap", "stack"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8088 || cfg.Server.ContextPath != "/metrics" {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Server.Host != DefaultHost {
		t.Fatalf("expected host default to survive, got %q", cfg.Server.Host)
	}
	if !cfg.Collect.StringTable || len(cfg.Filters.MemoryPools) != 2 {
		t.Fatalf("unexpected collect/filters: %+v %+v", cfg.Collect, cfg.Filters)
	}
	if cfg.WebSocket.IntervalMS != DefaultIntervalMS {
		t.Fatalf("expected interval default, got %d", cfg.WebSocket.IntervalMS)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, cfg.LoadedFrom)
	}
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-server.yaml", "server:\n  port: 9000\nwebsocket:\n  interval_ms: 250\n")
	writeFile(t, dir, "20-telnet.yaml", "telnet:\n  enabled: true\n  transport: \"ZIUTEK\"\nwebsocket:\n  interval_ms: 500\n")
	writeFile(t, dir, "notes.txt", "not yaml")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := filepath.Clean(cfg.LoadedFrom); got != filepath.Clean(dir) {
		t.Fatalf("expected LoadedFrom=%s, got %s", dir, got)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected server.port from 10-server.yaml, got %d", cfg.Server.Port)
	}
	if cfg.WebSocket.IntervalMS != 500 {
		t.Fatalf("expected later file to win for interval, got %d", cfg.WebSocket.IntervalMS)
	}
	if !cfg.Telnet.Enabled || cfg.Telnet.Transport != TransportZiutek {
		t.Fatalf("unexpected telnet config: %+v", cfg.Telnet)
	}
}

func TestLoadRejectsEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory without YAML files")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "server:\n  prot: 80\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for misspelled key")
	}
}

func TestLoadRejectsUnknownTelnetTransport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "runtime.yaml", "telnet:\n  transport: \"unsupported\"\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for unknown telnet transport")
	}
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "websocket:\n  interval_ms: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestLoadOrDefaultMissingPath(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Port != DefaultPort || cfg.LoadedFrom != "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestNormalizeContextPath(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"  ":        "/",
		"eidolon":   "/eidolon",
		"/eidolon/": "/eidolon",
		"/a/b//":    "/a/b",
	}
	for in, want := range cases {
		if got := NormalizeContextPath(in); got != want {
			t.Fatalf("NormalizeContextPath(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvHost:               "127.0.0.1",
		EnvPort:               "8081",
		EnvContextPath:        "ops/",
		EnvWebSocketEnabled:   "false",
		EnvWebSocketInterval:  "250",
		EnvGCBufferSize:       "64",
		EnvCollectStringTable: "true",
	}
	cfg := Default()
	cfg.ApplyEnvFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8081 || cfg.Server.ContextPath != "/ops" {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.WebSocket.Enabled || cfg.WebSocket.IntervalMS != 250 {
		t.Fatalf("unexpected websocket: %+v", cfg.WebSocket)
	}
	if cfg.Events.BufferSize != 64 || !cfg.Collect.StringTable {
		t.Fatalf("unexpected events/collect")
	}
}

func TestApplyEnvIgnoresInvalidValues(t *testing.T) {
	env := map[string]string{
		EnvPort:               "abc",
		EnvWebSocketInterval:  "-5",
		EnvGCBufferSize:       "0",
		EnvWebSocketEnabled:   "maybe",
		EnvCollectStringTable: "",
	}
	cfg := Default()
	cfg.ApplyEnvFrom(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Server.Port != DefaultPort || cfg.WebSocket.IntervalMS != DefaultIntervalMS || cfg.Events.BufferSize != DefaultEventBufferSize {
		t.Fatalf("invalid env values must be ignored, got %+v", cfg)
	}
	if !cfg.WebSocket.Enabled || cfg.Collect.StringTable {
		t.Fatalf("invalid booleans must be ignored")
	}
}

func TestApplyEnvUsesProcessEnvironment(t *testing.T) {
	t.Setenv(EnvPort, "7777")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Server.Port != 7777 {
		t.Fatalf("expected 7777, got %d", cfg.Server.Port)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "data", "config"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Server.Port != DefaultPort || cfg.Server.ContextPath != DefaultContextPath {
		t.Fatalf("expected shipped config to match defaults, got %+v", cfg.Server)
	}
	if cfg.Telnet.Enabled || cfg.MQTT.Enabled {
		t.Fatalf("expected optional transports off in shipped config")
	}
}
