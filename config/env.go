package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Environment variables honoured by ApplyEnv.
const (
	EnvConfigPath         = "EIDOLON_CONFIG_PATH"
	EnvHost               = "EIDOLON_HOST"
	EnvPort               = "EIDOLON_PORT"
	EnvContextPath        = "EIDOLON_CONTEXT_PATH"
	EnvWebSocketEnabled   = "EIDOLON_WEBSOCKET_ENABLED"
	EnvWebSocketInterval  = "EIDOLON_WEBSOCKET_INTERVAL"
	EnvGCBufferSize       = "EIDOLON_GC_BUFFER_SIZE"
	EnvCollectStringTable = "EIDOLON_COLLECT_STRING_TABLE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	c.ApplyEnvFrom(os.LookupEnv)
}

// ApplyEnvFrom overrides fields from lookup. Values that fail to parse or are
// out of range are ignored and logged; the existing value is kept.
func (c *Config) ApplyEnvFrom(lookup LookupFunc) {
	if v, ok := lookupTrimmed(lookup, EnvHost); ok {
		c.Server.Host = v
	}
	if v, ok := lookupTrimmed(lookup, EnvPort); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 65535 {
			c.Server.Port = n
		} else {
			log.Printf("config: ignoring %s=%q: not a valid port", EnvPort, v)
		}
	}
	if v, ok := lookupTrimmed(lookup, EnvContextPath); ok {
		c.Server.ContextPath = NormalizeContextPath(v)
	}
	if v, ok := lookupTrimmed(lookup, EnvWebSocketEnabled); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WebSocket.Enabled = b
		} else {
			log.Printf("config: ignoring %s=%q: not a boolean", EnvWebSocketEnabled, v)
		}
	}
	if v, ok := lookupTrimmed(lookup, EnvWebSocketInterval); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WebSocket.IntervalMS = n
		} else {
			log.Printf("config: ignoring %s=%q: must be a positive millisecond count", EnvWebSocketInterval, v)
		}
	}
	if v, ok := lookupTrimmed(lookup, EnvGCBufferSize); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Events.BufferSize = n
		} else {
			log.Printf("config: ignoring %s=%q: must be a positive integer", EnvGCBufferSize, v)
		}
	}
	if v, ok := lookupTrimmed(lookup, EnvCollectStringTable); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Collect.StringTable = b
		} else {
			log.Printf("config: ignoring %s=%q: not a boolean", EnvCollectStringTable, v)
		}
	}
}

func lookupTrimmed(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
