package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/framerelay/internal/config"
)

type fileConfig struct {
	Transport       string `toml:"transport"`
	Addr            string `toml:"addr"`
	SocketPath      string `toml:"socket_path"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	MaxPayloadBytes int64  `toml:"max_payload_bytes"`
	ConnectAttempts int    `toml:"connect_attempts"`
	BackoffInitial  string `toml:"backoff_initial"`
	BackoffMax      string `toml:"backoff_max"`
	Spawn           bool   `toml:"spawn"`
}

// loadHarnessConfig overlays the keys present in path onto the defaults.
// Keys absent from the file keep their default values.
func loadHarnessConfig(path string) (config.HarnessConfig, error) {
	cfg := config.DefaultHarnessConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.HarnessConfig{}, fmt.Errorf("load relayctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.HarnessConfig{}, fmt.Errorf("load relayctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("connect_timeout") {
		cfg.ConnectTimeout = strings.TrimSpace(raw.ConnectTimeout)
	}
	if meta.IsDefined("read_timeout") {
		cfg.ReadTimeout = strings.TrimSpace(raw.ReadTimeout)
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = strings.TrimSpace(raw.WriteTimeout)
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes < 0 || raw.MaxPayloadBytes > math.MaxUint32 {
			return config.HarnessConfig{}, fmt.Errorf("parse max_payload_bytes: %d out of range", raw.MaxPayloadBytes)
		}
		cfg.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("backoff_initial") {
		cfg.BackoffInitial = strings.TrimSpace(raw.BackoffInitial)
	}
	if meta.IsDefined("backoff_max") {
		cfg.BackoffMax = strings.TrimSpace(raw.BackoffMax)
	}
	if meta.IsDefined("spawn") {
		cfg.Spawn = raw.Spawn
	}
	return cfg, nil
}
