package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names a transport variant as selected by configuration.
type Kind string

const (
	KindPipes Kind = "pipes"
	KindTCP   Kind = "tcp"
	KindUnix  Kind = "unix"
)

var ErrUnknownKind = errors.New("transport: unknown kind")

// ParseKind maps a configuration string onto a Kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindPipes, KindTCP, KindUnix:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: pipes, tcp, unix)", ErrUnknownKind, raw)
	}
}

// Transport is the byte-level capability a relay is layered on.
type Transport interface {
	// Connect establishes the underlying connection. It is a no-op for
	// transports that are open at construction.
	Connect(ctx context.Context) error
	// ReadExact blocks until exactly n bytes are read, accumulating short reads.
	ReadExact(n int) ([]byte, error)
	// WriteAll blocks until every byte of p is written.
	WriteAll(p []byte) error
	Close() error
	Kind() Kind
}

// Config defines optional OS-level bounds for socket transports. Zero values
// mean no bound: connect, read and write block until completion or closure.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{}
}

func (c Config) WithDefaults() Config {
	if c.ConnectTimeout < 0 {
		c.ConnectTimeout = 0
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	return c
}
