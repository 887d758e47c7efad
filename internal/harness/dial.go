package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/relay"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer turns a harness configuration into a connected relay.
type Dialer struct {
	Config  config.HarnessConfig
	Backoff BackoffConfig
	Logger  zerolog.Logger
	// SpawnCommand is the child started for Config.Spawn. It defaults to
	// PeerCommand(Config).
	SpawnCommand []string

	rng *rand.Rand
}

func NewDialer(cfg config.HarnessConfig) *Dialer {
	backoff := DefaultBackoff()
	backoff.InitialDelay, backoff.MaxDelay = cfg.Backoff()
	return &Dialer{
		Config:       cfg,
		Backoff:      backoff,
		Logger:       log.With().Str("component", "harness").Logger(),
		SpawnCommand: PeerCommand(cfg),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewTransport builds the transport selected by cfg without connecting it.
func NewTransport(cfg config.HarnessConfig) (transport.Transport, error) {
	kind, err := transport.ParseKind(cfg.Transport)
	if err != nil {
		return nil, err
	}
	switch kind {
	case transport.KindPipes:
		return transport.Stdio(), nil
	case transport.KindTCP:
		return transport.NewTCP(cfg.Addr, cfg.TransportConfig()), nil
	case transport.KindUnix:
		return transport.NewUnix(cfg.SocketPath, cfg.TransportConfig()), nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, cfg.Transport)
	}
}

// Dial builds the transport, wraps it in a relay and connects it. Connect is
// attempted up to Config.ConnectAttempts times; the last failure is returned
// verbatim and the relay is closed.
func (d *Dialer) Dial(ctx context.Context) (*relay.Relay, error) {
	t, err := d.transport()
	if err != nil {
		return nil, err
	}
	r := relay.New(t, relay.WithLimits(d.Config.Limits()), relay.WithLogger(d.Logger), relay.WithName(d.target()))

	attempts := max(d.Config.ConnectAttempts, 1)
	for attempt := 1; ; attempt++ {
		err = r.Connect(ctx)
		if err == nil {
			return r, nil
		}
		d.Logger.Warn().Int("attempt", attempt).Str("target", d.target()).Err(err).Msg("connect failed")
		if attempt >= attempts || !Retryable(err) {
			_ = r.Close()
			return nil, err
		}
		if err := d.sleepBackoff(ctx, attempt); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
}

func (d *Dialer) transport() (transport.Transport, error) {
	if d.Config.Spawn && d.Config.Kind() == transport.KindPipes {
		if len(d.SpawnCommand) == 0 {
			return nil, fmt.Errorf("harness: empty spawn command")
		}
		return spawn(d.SpawnCommand, d.Logger)
	}
	return NewTransport(d.Config)
}

func (d *Dialer) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(NextBackoffDelay(d.Backoff, attempt, d.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dialer) target() string {
	switch d.Config.Kind() {
	case transport.KindTCP:
		return d.Config.Addr
	case transport.KindUnix:
		return d.Config.SocketPath
	default:
		return string(transport.KindPipes)
	}
}

// Retryable reports whether a connect failure can succeed on a later attempt,
// i.e. the peer may simply not be up yet.
func Retryable(err error) bool {
	return errors.Is(err, transport.ErrConnectionRefused) ||
		errors.Is(err, transport.ErrSocketNotFound) ||
		errors.Is(err, transport.ErrTimeout)
}
