package config

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danmuck/framerelay/internal/protocol/frame"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultAddr       = "127.0.0.1:9007"
	DefaultSocketPath = "/tmp/framerelay.sock"
	DefaultAdminAddr  = ":9108"

	// DefaultPeerMaxPayload bounds what one relayd session may announce.
	DefaultPeerMaxPayload = 16 << 20
	// DefaultCheckTimeout is in seconds.
	DefaultCheckTimeout = 60
)

// HarnessConfig is the relayctl file format. Durations are Go duration
// strings; an empty duration means no timeout.
type HarnessConfig struct {
	Transport       string `toml:"transport"`
	Addr            string `toml:"addr"`
	SocketPath      string `toml:"socket_path"`
	ConnectTimeout  string `toml:"connect_timeout"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
	ConnectAttempts int    `toml:"connect_attempts"`
	BackoffInitial  string `toml:"backoff_initial"`
	BackoffMax      string `toml:"backoff_max"`
	// Spawn runs a relayd child and uses its stdio when Transport is pipes.
	Spawn bool `toml:"spawn"`
}

// PeerConfig is the relayd file format.
type PeerConfig struct {
	Name            string   `toml:"name"`
	Listen          string   `toml:"listen"`
	Admin           string   `toml:"admin"`
	CorsOrigins     []string `toml:"cors_origins"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	MaxPayloadBytes uint32   `toml:"max_payload_bytes"`
	// UnavailableStatusCode is returned by failing admin checks, 503 by default.
	UnavailableStatusCode int `toml:"unavailable_status_code"`
	// CheckTimeout bounds one admin check, in seconds.
	CheckTimeout int `toml:"check_timeout"`
}

func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Transport:       string(transport.KindPipes),
		Addr:            DefaultAddr,
		SocketPath:      DefaultSocketPath,
		ConnectAttempts: 1,
		BackoffInitial:  "250ms",
		BackoffMax:      "5s",
	}
}

func DefaultPeerConfig() PeerConfig {
	cfg := PeerConfig{
		Name:            "relayd",
		Listen:          "tcp://" + DefaultAddr,
		MaxPayloadBytes: DefaultPeerMaxPayload,
	}
	cfg.InitDefaults()
	return cfg
}

// InitDefaults fills admin check settings left unset.
func (c *PeerConfig) InitDefaults() {
	if c.UnavailableStatusCode == 0 {
		c.UnavailableStatusCode = http.StatusServiceUnavailable
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
}

func LoadHarnessConfig(path string) (HarnessConfig, error) {
	cfg := DefaultHarnessConfig()
	if err := loadToml(path, &cfg); err != nil {
		return HarnessConfig{}, err
	}
	if err := ValidateHarnessConfig(cfg); err != nil {
		return HarnessConfig{}, err
	}
	return cfg, nil
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "relayd"
	}
	cfg.InitDefaults()
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHarnessConfig(cfg HarnessConfig) error {
	kind, err := transport.ParseKind(cfg.Transport)
	if err != nil {
		return fmt.Errorf("harness config: %w", err)
	}
	switch kind {
	case transport.KindTCP:
		if strings.TrimSpace(cfg.Addr) == "" {
			return fmt.Errorf("harness config missing addr for tcp transport")
		}
	case transport.KindUnix:
		if strings.TrimSpace(cfg.SocketPath) == "" {
			return fmt.Errorf("harness config missing socket_path for unix transport")
		}
	}
	if cfg.ConnectAttempts < 1 {
		return fmt.Errorf("harness config connect_attempts must be >= 1, got %d", cfg.ConnectAttempts)
	}
	for key, raw := range map[string]string{
		"connect_timeout": cfg.ConnectTimeout,
		"read_timeout":    cfg.ReadTimeout,
		"write_timeout":   cfg.WriteTimeout,
		"backoff_initial": cfg.BackoffInitial,
		"backoff_max":     cfg.BackoffMax,
	} {
		if _, err := parseDuration(key, raw); err != nil {
			return err
		}
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("peer config missing listen")
	}
	if cfg.UnavailableStatusCode < 100 || cfg.UnavailableStatusCode > 599 {
		return fmt.Errorf("peer config unavailable_status_code must be an HTTP status, got %d", cfg.UnavailableStatusCode)
	}
	if cfg.CheckTimeout <= 0 {
		return fmt.Errorf("peer config check_timeout must be positive, got %d", cfg.CheckTimeout)
	}
	for key, raw := range map[string]string{
		"read_timeout":  cfg.ReadTimeout,
		"write_timeout": cfg.WriteTimeout,
	} {
		if _, err := parseDuration(key, raw); err != nil {
			return err
		}
	}
	return nil
}

// Kind returns the selected transport. Call after validation.
func (c HarnessConfig) Kind() transport.Kind {
	kind, _ := transport.ParseKind(c.Transport)
	return kind
}

func (c HarnessConfig) TransportConfig() transport.Config {
	return transport.Config{
		ConnectTimeout: mustDuration(c.ConnectTimeout),
		ReadTimeout:    mustDuration(c.ReadTimeout),
		WriteTimeout:   mustDuration(c.WriteTimeout),
	}
}

func (c HarnessConfig) Limits() frame.Limits {
	return limits(c.MaxPayloadBytes)
}

// Backoff returns the initial and maximum delay between connect attempts.
func (c HarnessConfig) Backoff() (initial, max time.Duration) {
	return mustDuration(c.BackoffInitial), mustDuration(c.BackoffMax)
}

func (c PeerConfig) TransportConfig() transport.Config {
	return transport.Config{
		ReadTimeout:  mustDuration(c.ReadTimeout),
		WriteTimeout: mustDuration(c.WriteTimeout),
	}
}

// Limits falls back to unlimited when max_payload_bytes is explicitly 0.
func (c PeerConfig) Limits() frame.Limits {
	return limits(c.MaxPayloadBytes)
}

func (c PeerConfig) CheckTimeoutDuration() time.Duration {
	return time.Duration(c.CheckTimeout) * time.Second
}

func limits(maxPayload uint32) frame.Limits {
	l := frame.DefaultLimits()
	if maxPayload > 0 {
		l.MaxPayloadBytes = maxPayload
	}
	return l
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, raw)
	}
	return d, nil
}

func mustDuration(raw string) time.Duration {
	d, _ := parseDuration("", raw)
	return d
}
