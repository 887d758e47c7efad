package harness

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/relay"
	"github.com/danmuck/framerelay/internal/scenario"
	"github.com/danmuck/framerelay/internal/testutil/testlog"
	"github.com/danmuck/framerelay/internal/transport"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fr")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "h.sock")
}

func closedTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := NextBackoffDelay(cfg, attempt, nil); got != d {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, d)
		}
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 32; i++ {
		got := NextBackoffDelay(cfg, 1, rng)
		if got < 125*time.Millisecond || got > 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestNewTransportSelectsKind(t *testing.T) {
	cfg := config.DefaultHarnessConfig()
	for _, kind := range []transport.Kind{transport.KindPipes, transport.KindTCP, transport.KindUnix} {
		cfg.Transport = string(kind)
		tr, err := NewTransport(cfg)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if tr.Kind() != kind {
			t.Fatalf("expected %s, got %s", kind, tr.Kind())
		}
	}
	cfg.Transport = "serial"
	if _, err := NewTransport(cfg); !errors.Is(err, transport.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDialTCPNoListenerIsRefused(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultHarnessConfig()
	cfg.Transport = "tcp"
	cfg.Addr = closedTCPAddr(t)

	done := make(chan error, 1)
	go func() {
		_, err := NewDialer(cfg).Dial(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, transport.ErrConnectionRefused) {
			t.Fatalf("expected ErrConnectionRefused, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("dial hung with no listener")
	}
}

func TestDialRetriesUntilPeerAppears(t *testing.T) {
	testlog.Start(t)
	path := shortSocketPath(t)
	cfg := config.DefaultHarnessConfig()
	cfg.Transport = "unix"
	cfg.SocketPath = path
	cfg.ConnectAttempts = 20
	cfg.BackoffInitial = "10ms"
	cfg.BackoffMax = "40ms"

	ready := make(chan net.Listener, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		ln, err := net.Listen("unix", path)
		if err != nil {
			ready <- nil
			return
		}
		ready <- ln
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}
	}()

	r, err := NewDialer(cfg).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer r.Close()
	if r.State() != relay.StateConnected {
		t.Fatalf("expected connected, got %s", r.State())
	}
	if ln := <-ready; ln != nil {
		defer ln.Close()
	}
}

func TestDialDoesNotRetryPermanentFailures(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultHarnessConfig()
	cfg.Transport = "tcp"
	cfg.Addr = "127.0.0.1:notaport"
	cfg.ConnectAttempts = 5
	cfg.BackoffInitial = "1s"

	start := time.Now()
	_, err := NewDialer(cfg).Dial(context.Background())
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if Retryable(err) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("permanent failure was retried (took %s)", elapsed)
	}
}

func TestDialHonorsContextDuringBackoff(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultHarnessConfig()
	cfg.Transport = "unix"
	cfg.SocketPath = shortSocketPath(t)
	cfg.ConnectAttempts = 10
	cfg.BackoffInitial = "5s"
	cfg.BackoffMax = "5s"

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewDialer(cfg).Dial(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPeerHint(t *testing.T) {
	cfg := config.DefaultHarnessConfig()
	cfg.Transport = "unix"
	cfg.SocketPath = "/tmp/has space.sock"

	hint := PeerHint(cfg, transport.ErrSocketNotFound)
	if hint != "relayd -listen 'unix:///tmp/has space.sock'" {
		t.Fatalf("unexpected hint: %s", hint)
	}
	if PeerHint(cfg, transport.ErrTimeout) != "" {
		t.Fatalf("expected no hint for timeout")
	}

	cfg.Transport = "tcp"
	if hint := PeerHint(cfg, transport.ErrConnectionRefused); !strings.HasSuffix(hint, "tcp://127.0.0.1:9007") {
		t.Fatalf("unexpected tcp hint: %s", hint)
	}
}

func TestDialSpawnedEchoPeer(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skipf("cat not available: %v", err)
	}
	cfg := config.DefaultHarnessConfig()
	cfg.Spawn = true

	d := NewDialer(cfg)
	if got := strings.Join(d.SpawnCommand, " "); got != "relayd -listen pipes" {
		t.Fatalf("unexpected default spawn command %q", got)
	}
	// cat echoes frames byte for byte.
	d.SpawnCommand = []string{"cat"}

	r, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for _, name := range []string{scenario.Ordering, scenario.Raw} {
		if err := scenario.Default().Run(context.Background(), name, r); err != nil {
			t.Fatalf("%s over spawned cat: %v", name, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDialSpawnMissingBinary(t *testing.T) {
	cfg := config.DefaultHarnessConfig()
	cfg.Spawn = true
	d := NewDialer(cfg)
	d.SpawnCommand = []string{"framerelay-no-such-binary"}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatalf("expected spawn error")
	}
}
