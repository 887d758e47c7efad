package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAlreadyConnected = errors.New("transport: already connected")

// socket is the connection core shared by the tcp, unix and accepted variants.
type socket struct {
	network string
	address string
	cfg     Config

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (s *socket) dial(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrConnectionClosed
	case s.conn != nil:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		log.Debug().Str("network", s.network).Str("addr", s.address).Err(err).Msg("transport dial failed")
		return classifyDial(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return ErrConnectionClosed
	}
	s.conn = conn
	log.Debug().Str("network", s.network).Str("addr", s.address).Msg("transport connected")
	return nil
}

func (s *socket) current() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrConnectionClosed
	}
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *socket) ReadExact(n int) ([]byte, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}
	if s.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return nil, classifyIO(err)
		}
	}
	return readExact(conn, n)
}

func (s *socket) WriteAll(p []byte) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	if s.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return classifyIO(err)
		}
	}
	return writeAll(conn, p)
}

// Close shuts the socket down; blocked reads and writes fail with
// ErrConnectionClosed. Closing twice is a no-op.
func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// TCP is a client connection to host:port.
type TCP struct {
	socket
}

var _ Transport = (*TCP)(nil)

func NewTCP(addr string, cfg Config) *TCP {
	return &TCP{socket: socket{network: "tcp", address: addr, cfg: cfg.WithDefaults()}}
}

func (t *TCP) Kind() Kind { return KindTCP }

func (t *TCP) Connect(ctx context.Context) error { return t.dial(ctx) }

func (t *TCP) Addr() string { return t.address }

// Unix is a client connection to a filesystem socket path.
type Unix struct {
	socket
}

var _ Transport = (*Unix)(nil)

func NewUnix(path string, cfg Config) *Unix {
	return &Unix{socket: socket{network: "unix", address: path, cfg: cfg.WithDefaults()}}
}

func (u *Unix) Kind() Kind { return KindUnix }

func (u *Unix) Connect(ctx context.Context) error { return u.dial(ctx) }

func (u *Unix) Path() string { return u.address }

// Conn wraps a connection that is already established, typically one
// returned by a listener's Accept. Connect is a no-op.
type Conn struct {
	socket
}

var _ Transport = (*Conn)(nil)

func FromConn(conn net.Conn, cfg Config) *Conn {
	network := conn.LocalAddr().Network()
	return &Conn{socket: socket{
		network: network,
		address: conn.RemoteAddr().String(),
		cfg:     cfg.WithDefaults(),
		conn:    conn,
	}}
}

func (c *Conn) Kind() Kind {
	if c.network == "unix" {
		return KindUnix
	}
	return KindTCP
}

func (c *Conn) Connect(context.Context) error {
	_, err := c.current()
	return err
}
