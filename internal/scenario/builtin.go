package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/framerelay/internal/relay"
)

const (
	Ping     = "ping"
	Empty    = "empty"
	Error    = "error"
	Ordering = "ordering"
	Raw      = "raw"
	Large    = "large"
)

var ErrUnexpectedReply = errors.New("scenario: unexpected reply")

// ApplicationError is a reply whose ERROR flag was set by the peer. It is an
// application-level outcome, not a transport failure.
type ApplicationError struct {
	Payload []byte
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("scenario: peer reported error: %q", e.Payload)
}

func registerBuiltins(reg *Registry) {
	for name, fn := range map[string]Func{
		Ping:     runPing,
		Empty:    runEmpty,
		Error:    runError,
		Ordering: runOrdering,
		Raw:      runRaw,
		Large:    runLarge,
	} {
		_ = reg.Register(name, fn)
	}
}

// exchange sends one message and returns the next reply, turning an
// ERROR-flagged reply into *ApplicationError.
func exchange(r *relay.Relay, payload []byte) ([]byte, error) {
	if err := r.Send(payload, false); err != nil {
		return nil, err
	}
	reply, isError, err := r.Receive()
	if err != nil {
		return nil, err
	}
	if isError {
		return nil, &ApplicationError{Payload: reply}
	}
	return reply, nil
}

func expectPayload(got, want []byte) error {
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedReply, clip(got), clip(want))
	}
	return nil
}

func runPing(_ context.Context, r *relay.Relay) error {
	reply, err := exchange(r, []byte("ping"))
	if err != nil {
		return err
	}
	return expectPayload(reply, []byte("pong"))
}

func runEmpty(_ context.Context, r *relay.Relay) error {
	if err := r.Send(nil, false); err != nil {
		return err
	}
	msg, err := r.ReceiveMessage()
	if err != nil {
		return err
	}
	if !msg.IsRaw || msg.IsError || len(msg.Payload) != 0 {
		return fmt.Errorf("%w: want raw empty reply, got raw=%v error=%v len=%d",
			ErrUnexpectedReply, msg.IsRaw, msg.IsError, len(msg.Payload))
	}
	return nil
}

// runError passes when the peer answers "boom" with an ERROR-flagged "boom".
func runError(_ context.Context, r *relay.Relay) error {
	_, err := exchange(r, []byte("boom"))
	var appErr *ApplicationError
	if !errors.As(err, &appErr) {
		if err == nil {
			return fmt.Errorf("%w: want error-flagged reply", ErrUnexpectedReply)
		}
		return err
	}
	return expectPayload(appErr.Payload, []byte("boom"))
}

func runOrdering(ctx context.Context, r *relay.Relay) error {
	const n = 16
	for i := 0; i < n; i++ {
		if err := r.Send([]byte(fmt.Sprintf("seq-%02d", i)), false); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		reply, isError, err := r.Receive()
		if err != nil {
			return err
		}
		if isError {
			return &ApplicationError{Payload: reply}
		}
		if err := expectPayload(reply, []byte(fmt.Sprintf("seq-%02d", i))); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func runRaw(_ context.Context, r *relay.Relay) error {
	const value = 0x0BADF00D
	if err := r.SendRaw(value, false); err != nil {
		return err
	}
	msg, err := r.ReceiveMessage()
	if err != nil {
		return err
	}
	if !msg.IsRaw || msg.Value != value || msg.IsError {
		return fmt.Errorf("%w: want raw value %#x, got raw=%v value=%#x error=%v",
			ErrUnexpectedReply, value, msg.IsRaw, msg.Value, msg.IsError)
	}
	return nil
}

func runLarge(_ context.Context, r *relay.Relay) error {
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	reply, err := exchange(r, payload)
	if err != nil {
		return err
	}
	return expectPayload(reply, payload)
}

func clip(b []byte) []byte {
	if len(b) > 32 {
		return b[:32]
	}
	return b
}
