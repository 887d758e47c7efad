package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/danmuck/framerelay/internal/observability"
	"github.com/danmuck/framerelay/internal/protocol/frame"
	"github.com/danmuck/framerelay/internal/relay"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxPayload bounds the payload a client may announce to a Server.
const DefaultMaxPayload = 16 << 20

// Server accepts relay connections on one tcp or unix listener and answers
// each with Serve on its own goroutine.
type Server struct {
	Transport transport.Config
	Limits    frame.Limits

	ln     net.Listener
	log    zerolog.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[*relay.Relay]struct{}
	closed bool
}

// Listen binds network ("tcp" or "unix") at address. A stale unix socket
// file left by a previous run is removed first.
func Listen(network, address string) (*Server, error) {
	switch network {
	case "tcp":
	case "unix":
		if err := removeStaleSocket(address); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("peer: unsupported network %q", network)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("peer: listen %s %s: %w", network, address, err)
	}
	return &Server{
		Transport: transport.DefaultConfig(),
		Limits:    frame.Limits{MaxPayloadBytes: DefaultMaxPayload},
		ln:        ln,
		log:       log.With().Str("component", "peer").Str("listen", ln.Addr().String()).Logger(),
		active:    map[*relay.Relay]struct{}{},
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled or Close is called, then
// closes every active session and waits for them to finish.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info().Msg("peer listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.closeActive()
			s.wg.Wait()
			if s.isClosed() {
				return nil
			}
			return err
		}
		r := relay.New(transport.FromConn(conn, s.Transport), relay.WithLimits(s.Limits), relay.WithName(conn.RemoteAddr().String()))
		if err := r.Connect(ctx); err != nil {
			_ = r.Close()
			continue
		}
		if !s.track(r) {
			_ = r.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(r)
			defer observability.TrackPeerSession()()
			if err := Serve(ctx, r, s.log); err != nil {
				s.log.Warn().Err(err).Msg("peer session failed")
			}
			_ = r.Close()
		}()
	}
}

// Close stops accepting. Active sessions are closed by Serve on its way out.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Name identifies the listener in admin reports.
func (s *Server) Name() string { return "listener" }

// Status reports 200 while accepting and 503 once closed.
func (s *Server) Status(context.Context) (int, error) {
	if s.isClosed() {
		return http.StatusServiceUnavailable, nil
	}
	return http.StatusOK, nil
}

func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(r *relay.Relay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[r] = struct{}{}
	return true
}

func (s *Server) untrack(r *relay.Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, r)
}

func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r := range s.active {
		_ = r.Close()
	}
}

// ServeStdio answers one session on the process's own stdin and stdout.
func ServeStdio(ctx context.Context, limits frame.Limits) error {
	r := relay.New(transport.Stdio(), relay.WithLimits(limits), relay.WithName("stdio"))
	if err := r.Connect(ctx); err != nil {
		return err
	}
	defer r.Close()
	return Serve(ctx, r, log.With().Str("component", "peer").Str("listen", "stdio").Logger())
}

// ParseListen splits "tcp://host:port", "unix:///path" or "pipes" into a
// network and address. A bare host:port is treated as tcp.
func ParseListen(raw string) (network, address string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", fmt.Errorf("peer: empty listen address")
	case raw == string(transport.KindPipes):
		return string(transport.KindPipes), "", nil
	case strings.HasPrefix(raw, "tcp://"):
		address = strings.TrimPrefix(raw, "tcp://")
		if _, _, err := net.SplitHostPort(address); err != nil {
			return "", "", fmt.Errorf("peer: invalid tcp listen address %q: %w", address, err)
		}
		return "tcp", address, nil
	case strings.HasPrefix(raw, "unix://"):
		address = strings.TrimPrefix(raw, "unix://")
		if address == "" {
			return "", "", fmt.Errorf("peer: empty unix socket path")
		}
		return "unix", address, nil
	case strings.Contains(raw, "://"):
		return "", "", fmt.Errorf("peer: unsupported listen scheme in %q", raw)
	default:
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return "", "", fmt.Errorf("peer: invalid listen address %q: %w", raw, err)
		}
		return "tcp", raw, nil
	}
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("peer: %s exists and is not a socket", path)
	}
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return fmt.Errorf("peer: socket %s is in use", path)
	}
	return os.Remove(path)
}
