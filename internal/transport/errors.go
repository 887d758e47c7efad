package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

var (
	ErrConnectionRefused = errors.New("transport: connection refused")
	ErrTimeout           = errors.New("transport: timeout")
	ErrDNS               = errors.New("transport: dns resolution failed")
	ErrSocketNotFound    = errors.New("transport: socket not found")
	ErrPermissionDenied  = errors.New("transport: permission denied")
	ErrConnectionClosed  = errors.New("transport: connection closed")
	ErrIO                = errors.New("transport: i/o error")
	ErrNotConnected      = errors.New("transport: not connected")
)

// classifyDial maps a dial failure onto the taxonomy, keeping the cause wrapped.
func classifyDial(err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrDNS, err)
	case isRefused(err):
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	case isNotFound(err):
		return fmt.Errorf("%w: %w", ErrSocketNotFound, err)
	case isPermission(err):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}

// classifyIO maps a read/write failure onto the taxonomy.
func classifyIO(err error) error {
	switch {
	case isClosed(err):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		isReset(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errnoNotFound(err)
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || errnoPermission(err)
}
