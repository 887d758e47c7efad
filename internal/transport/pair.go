package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// StreamPair relays over two independent, already-open byte streams, such
// as a process's stdin and stdout. Connect only marks the pair usable.
type StreamPair struct {
	r         io.ReadCloser
	w         io.WriteCloser
	connected atomic.Bool
	closed    atomic.Bool
}

var _ Transport = (*StreamPair)(nil)

func NewStreamPair(r io.ReadCloser, w io.WriteCloser) *StreamPair {
	return &StreamPair{r: r, w: w}
}

// Stdio reads from os.Stdin and writes to os.Stdout.
func Stdio() *StreamPair {
	return NewStreamPair(os.Stdin, os.Stdout)
}

func (p *StreamPair) Kind() Kind { return KindPipes }

func (p *StreamPair) Connect(context.Context) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}
	p.connected.Store(true)
	return nil
}

func (p *StreamPair) ReadExact(n int) ([]byte, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	return readExact(p.r, n)
}

func (p *StreamPair) WriteAll(b []byte) error {
	if err := p.usable(); err != nil {
		return err
	}
	return writeAll(p.w, b)
}

func (p *StreamPair) usable() error {
	switch {
	case p.closed.Load():
		return ErrConnectionClosed
	case !p.connected.Load():
		return ErrNotConnected
	default:
		return nil
	}
}

// Close closes both streams. Closing an already-closed pair is a no-op.
func (p *StreamPair) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(p.r.Close(), p.w.Close())
}
