package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/framerelay/internal/observability"
	"github.com/danmuck/framerelay/internal/protocol/frame"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Send and Receive outside the Connected state.
var ErrNotConnected = transport.ErrNotConnected

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Message is the full decoded view of one received frame.
type Message struct {
	Payload []byte
	IsError bool
	IsRaw   bool
	// Value is the inline value of a raw frame; zero otherwise.
	Value uint32
}

type Option func(*Relay)

func WithLimits(limits frame.Limits) Option {
	return func(r *Relay) { r.limits = limits }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Relay) { r.log = logger }
}

// WithName tags log lines with a relay name, e.g. the scenario being run.
func WithName(name string) Option {
	return func(r *Relay) { r.name = name }
}

type Relay struct {
	t      transport.Transport
	limits frame.Limits
	log    zerolog.Logger
	name   string

	connectMu sync.Mutex
	stateMu   sync.Mutex
	state     State

	writeMu sync.Mutex
	readMu  sync.Mutex
}

func New(t transport.Transport, opts ...Option) *Relay {
	r := &Relay{
		t:      t,
		limits: frame.DefaultLimits(),
		log:    log.Logger,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "relay").Str("transport", string(t.Kind())).Str("name", r.name).Logger()
	return r
}

func (r *Relay) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Relay) Transport() transport.Transport { return r.t }

// Connect moves a Disconnected relay to Connected. Transport failures are
// returned unchanged and leave the relay Disconnected.
func (r *Relay) Connect(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()
	switch r.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: relay closed", ErrNotConnected)
	}

	start := time.Now()
	err := r.t.Connect(ctx)
	observability.RecordConnect(r.kind(), time.Since(start), err == nil)
	if err != nil {
		observability.RecordFailure(r.kind(), "connect")
		r.log.Debug().Err(err).Msg("connect failed")
		return err
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state == StateClosed {
		return fmt.Errorf("%w: relay closed during connect", ErrNotConnected)
	}
	r.state = StateConnected
	r.log.Debug().Dur("took", time.Since(start)).Msg("connected")
	return nil
}

// Close is terminal. It does not wait for in-flight Send or Receive calls;
// closing the transport is what unblocks them.
func (r *Relay) Close() error {
	r.stateMu.Lock()
	if r.state == StateClosed {
		r.stateMu.Unlock()
		return nil
	}
	r.state = StateClosed
	r.stateMu.Unlock()

	r.log.Debug().Msg("closing")
	return r.t.Close()
}

// Send writes payload as one frame. An empty payload goes out as a raw frame
// with value 0.
func (r *Relay) Send(payload []byte, isError bool) error {
	if len(payload) == 0 {
		return r.SendRaw(0, isError)
	}
	if err := r.ensureConnected(); err != nil {
		return err
	}
	b, err := frame.Encode(payload, isError)
	if err != nil {
		observability.RecordFailure(r.kind(), "encode")
		return err
	}
	if err := r.write(b); err != nil {
		return err
	}
	observability.RecordFrame(r.kind(), observability.DirectionSend, false, isError, len(payload))
	r.log.Trace().Int("len", len(payload)).Bool("error_flag", isError).Msg("sent frame")
	return nil
}

// SendRaw writes a header-only frame carrying value inline.
func (r *Relay) SendRaw(value uint32, isError bool) error {
	if err := r.ensureConnected(); err != nil {
		return err
	}
	if err := r.write(frame.EncodeRaw(value, isError)); err != nil {
		return err
	}
	observability.RecordFrame(r.kind(), observability.DirectionSend, true, isError, 0)
	r.log.Trace().Uint32("value", value).Bool("error_flag", isError).Msg("sent raw frame")
	return nil
}

// Receive returns the next message's payload and error flag. Raw frames
// yield an empty payload.
func (r *Relay) Receive() ([]byte, bool, error) {
	msg, err := r.ReceiveMessage()
	if err != nil {
		return nil, false, err
	}
	return msg.Payload, msg.IsError, nil
}

// ReceiveMessage reads the fixed header, then exactly the announced number of
// payload bytes unless the frame is raw.
func (r *Relay) ReceiveMessage() (Message, error) {
	if err := r.ensureConnected(); err != nil {
		return Message{}, err
	}
	r.readMu.Lock()
	defer r.readMu.Unlock()

	hb, err := r.t.ReadExact(frame.HeaderLen)
	if err != nil {
		observability.RecordFailure(r.kind(), "read_header")
		return Message{}, err
	}
	h, err := frame.DecodeHeader(hb)
	if err != nil {
		observability.RecordFailure(r.kind(), "decode_header")
		return Message{}, err
	}
	if h.IsRaw() {
		observability.RecordFrame(r.kind(), observability.DirectionReceive, true, h.IsError(), 0)
		r.log.Trace().Uint32("value", h.Length).Bool("error_flag", h.IsError()).Msg("received raw frame")
		return Message{Payload: []byte{}, IsError: h.IsError(), IsRaw: true, Value: h.Length}, nil
	}
	n, err := r.limits.PayloadLen(h.Length)
	if err != nil {
		observability.RecordFailure(r.kind(), "limits")
		return Message{}, err
	}
	payload, err := r.t.ReadExact(n)
	if err != nil {
		observability.RecordFailure(r.kind(), "read_payload")
		return Message{}, err
	}
	observability.RecordFrame(r.kind(), observability.DirectionReceive, false, h.IsError(), len(payload))
	r.log.Trace().Int("len", len(payload)).Bool("error_flag", h.IsError()).Msg("received frame")
	return Message{Payload: payload, IsError: h.IsError()}, nil
}

func (r *Relay) write(b []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.t.WriteAll(b); err != nil {
		observability.RecordFailure(r.kind(), "write")
		return err
	}
	return nil
}

func (r *Relay) ensureConnected() error {
	if s := r.State(); s != StateConnected {
		return fmt.Errorf("%w: relay %s", ErrNotConnected, s)
	}
	return nil
}

func (r *Relay) kind() string {
	return string(r.t.Kind())
}
