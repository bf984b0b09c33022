// Package config loads the agent configuration from YAML, applies defaults
// and environment overrides, and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 7090
	DefaultContextPath       = "/eidolon"
	DefaultIntervalMS        = 1000
	DefaultEventBufferSize   = 1024
	DefaultTelnetPort        = 7091
	DefaultTelnetMaxConns    = 64
	DefaultClientBuffer      = 16
	DefaultMQTTPort          = 1883
	DefaultLogRetentionDays  = 7
	DefaultMetricsPath       = "/metrics"
	DefaultMQTTEventTopic    = "eidolon/events"
	DefaultMQTTPublishTopic  = "eidolon/snapshots"
	DefaultTelnetWelcomeLine = "eidolon telemetry - type HELP for commands"
)

// Telnet transports.
const (
	TransportNative = "native"
	TransportZiutek = "ziutek"
)

// UI modes.
const (
	UIModeHeadless = "headless"
	UIModeTview    = "tview"
)

// Config represents the complete agent configuration.
type Config struct {
	Enabled   bool            `yaml:"enabled"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Events    EventsConfig    `yaml:"events"`
	Collect   CollectConfig   `yaml:"collect"`
	Filters   FiltersConfig   `yaml:"filters"`
	Telnet    TelnetConfig    `yaml:"telnet"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	UI        UIConfig        `yaml:"ui"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// LoadedFrom records the file or directory the config came from; empty
	// when only defaults were used.
	LoadedFrom string `yaml:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ContextPath string `yaml:"context_path"`
}

// WebSocketConfig controls the periodic broadcast.
type WebSocketConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
}

// Interval returns the broadcast period.
func (w WebSocketConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMS) * time.Millisecond
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type CollectConfig struct {
	StringTable bool `yaml:"string_table"`
}

// FiltersConfig holds the allow-lists. Empty lists disable filtering.
type FiltersConfig struct {
	MemoryPools        []string `yaml:"memory_pools"`
	EventSources       []string `yaml:"event_sources"`
	ThreadNamePrefixes []string `yaml:"thread_name_prefixes"`
}

// TelnetConfig configures the line-oriented subscriber transport.
type TelnetConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	Transport      string `yaml:"transport"`
	MaxConnections int    `yaml:"max_connections"`
	ClientBuffer   int    `yaml:"client_buffer"`
	WelcomeMessage string `yaml:"welcome_message"`
}

// MQTTConfig configures the remote event source and snapshot publisher.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Port         int    `yaml:"port"`
	EventTopic   string `yaml:"event_topic"`
	PublishTopic string `yaml:"publish_topic"`
	ClientID     string `yaml:"client_id"`
}

// LoggingConfig controls the optional daily file sink.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type UIConfig struct {
	Mode string `yaml:"mode"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Enabled: true,
		Server: ServerConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			ContextPath: DefaultContextPath,
		},
		WebSocket: WebSocketConfig{Enabled: true, IntervalMS: DefaultIntervalMS},
		Events:    EventsConfig{BufferSize: DefaultEventBufferSize},
		Telnet: TelnetConfig{
			Port:           DefaultTelnetPort,
			Transport:      TransportNative,
			MaxConnections: DefaultTelnetMaxConns,
			ClientBuffer:   DefaultClientBuffer,
			WelcomeMessage: DefaultTelnetWelcomeLine,
		},
		MQTT: MQTTConfig{
			Port:         DefaultMQTTPort,
			EventTopic:   DefaultMQTTEventTopic,
			PublishTopic: DefaultMQTTPublishTopic,
		},
		Logging: LoggingConfig{Dir: "data/logs", RetentionDays: DefaultLogRetentionDays},
		UI:      UIConfig{Mode: UIModeHeadless},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
}

// Purpose: Load configuration from a YAML file or a directory of YAML files.
// Key aspects: Directory files merge in lexical order over the defaults;
// unknown keys are rejected; the result is normalized and validated.
// Upstream: main startup, agent.Launcher hosts.
// Downstream: yaml.v3 decoder, Normalize, Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config path %q: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = yamlFiles(path)
		if err != nil {
			return nil, err
		}
	}
	for _, file := range files {
		if err := decodeFile(file, cfg); err != nil {
			return nil, err
		}
	}
	cfg.LoadedFrom = path
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults when it
// does not. Parse and validation errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		cfg.Normalize()
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Normalize()
		return cfg, nil
	}
	return Load(path)
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory %q: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files found in config directory %q", dir)
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

// NormalizeContextPath returns "/" for empty or root input, otherwise the path
// with exactly one leading slash and no trailing slash.
func NormalizeContextPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// Normalize trims and canonicalizes user input in place.
func (c *Config) Normalize() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	c.Server.ContextPath = NormalizeContextPath(c.Server.ContextPath)
	c.Telnet.Transport = strings.ToLower(strings.TrimSpace(c.Telnet.Transport))
	if c.Telnet.Transport == "" {
		c.Telnet.Transport = TransportNative
	}
	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIModeHeadless
	}
	c.Metrics.Path = NormalizeContextPath(c.Metrics.Path)
	if c.Metrics.Path == "/" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate rejects values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.WebSocket.IntervalMS <= 0 {
		return fmt.Errorf("websocket.interval_ms must be positive, got %d", c.WebSocket.IntervalMS)
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be positive, got %d", c.Events.BufferSize)
	}
	switch c.Telnet.Transport {
	case TransportNative, TransportZiutek:
	default:
		return fmt.Errorf("telnet.transport %q is not supported (use %q or %q)", c.Telnet.Transport, TransportNative, TransportZiutek)
	}
	if c.Telnet.Enabled && (c.Telnet.Port <= 0 || c.Telnet.Port > 65535) {
		return fmt.Errorf("telnet.port %d out of range", c.Telnet.Port)
	}
	switch c.UI.Mode {
	case UIModeHeadless, UIModeTview:
	default:
		return fmt.Errorf("ui.mode %q is not supported", c.UI.Mode)
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("mqtt.broker is required when mqtt.enabled is true")
	}
	return nil
}

// Print displays the effective configuration.
func (c *Config) Print() {
	fmt.Printf("HTTP: %s:%d%s\n", c.Server.Host, c.Server.Port, c.Server.ContextPath)
	if c.WebSocket.Enabled {
		fmt.Printf("WebSocket broadcast: every %s\n", c.WebSocket.Interval())
	}
	fmt.Printf("Event buffer: %d (string table: %t)\n", c.Events.BufferSize, c.Collect.StringTable)
	if c.Telnet.Enabled {
		fmt.Printf("Telnet: port %d (%s, max %d)\n", c.Telnet.Port, c.Telnet.Transport, c.Telnet.MaxConnections)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (events: %s, publish: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.EventTopic, c.MQTT.PublishTopic)
	}
	if n := len(c.Filters.MemoryPools); n > 0 {
		fmt.Printf("Memory pools: %s\n", strings.Join(c.Filters.MemoryPools, ", "))
	}
}
