package peer

import (
	"bytes"
	"context"
	"errors"

	"github.com/danmuck/framerelay/internal/relay"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog"
)

var (
	pingPayload = []byte("ping")
	pongPayload = []byte("pong")
	boomPayload = []byte("boom")
)

// Respond computes the reply to one message: "ping" becomes "pong", "boom"
// comes back ERROR-flagged, raw frames are echoed raw with their value, and
// anything else is echoed with its own flag.
func Respond(msg relay.Message) relay.Message {
	switch {
	case msg.IsRaw:
		return relay.Message{IsRaw: true, IsError: msg.IsError, Value: msg.Value, Payload: []byte{}}
	case bytes.Equal(msg.Payload, pingPayload):
		return relay.Message{Payload: pongPayload}
	case bytes.Equal(msg.Payload, boomPayload):
		return relay.Message{Payload: boomPayload, IsError: true}
	default:
		return relay.Message{Payload: msg.Payload, IsError: msg.IsError}
	}
}

// Serve answers messages on r until the remote side closes or ctx ends.
// A remote close is a clean shutdown and returns nil.
func Serve(ctx context.Context, r *relay.Relay, logger zerolog.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	var served int
	for {
		msg, err := r.ReceiveMessage()
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) || ctx.Err() != nil {
				logger.Debug().Int("served", served).Msg("peer session ended")
				return nil
			}
			return err
		}
		reply := Respond(msg)
		if reply.IsRaw {
			err = r.SendRaw(reply.Value, reply.IsError)
		} else {
			err = r.Send(reply.Payload, reply.IsError)
		}
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		served++
	}
}
