package peer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/framerelay/internal/protocol/frame"
	"github.com/danmuck/framerelay/internal/relay"
	"github.com/danmuck/framerelay/internal/testutil/testlog"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fr")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "peer.sock")
}

func startServer(t *testing.T, network, address string) (*Server, func()) {
	t.Helper()
	srv, err := Listen(network, address)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return srv, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Errorf("server did not stop")
		}
	}
}

func connect(t *testing.T, tr transport.Transport) *relay.Relay {
	t.Helper()
	r := relay.New(tr)
	require.NoError(t, r.Connect(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRespond(t *testing.T) {
	cases := []struct {
		name string
		in   relay.Message
		want relay.Message
	}{
		{"ping", relay.Message{Payload: []byte("ping")}, relay.Message{Payload: []byte("pong")}},
		{"boom", relay.Message{Payload: []byte("boom")}, relay.Message{Payload: []byte("boom"), IsError: true}},
		{"echo", relay.Message{Payload: []byte("hello")}, relay.Message{Payload: []byte("hello")}},
		{"echo error", relay.Message{Payload: []byte("bad"), IsError: true}, relay.Message{Payload: []byte("bad"), IsError: true}},
		{"raw", relay.Message{IsRaw: true, Value: 7, Payload: []byte{}}, relay.Message{IsRaw: true, Value: 7, Payload: []byte{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Respond(tc.in))
		})
	}
}

func TestParseListen(t *testing.T) {
	cases := map[string][2]string{
		"tcp://127.0.0.1:9007":        {"tcp", "127.0.0.1:9007"},
		"127.0.0.1:9007":              {"tcp", "127.0.0.1:9007"},
		"unix:///tmp/framerelay.sock": {"unix", "/tmp/framerelay.sock"},
		"pipes":                       {"pipes", ""},
	}
	for raw, want := range cases {
		network, address, err := ParseListen(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want[0], network, raw)
		assert.Equal(t, want[1], address, raw)
	}
	for _, bad := range []string{"", "udp://1.2.3.4:5", "unix://", "tcp://nohost", "justahost"} {
		_, _, err := ParseListen(bad)
		assert.Error(t, err, bad)
	}
}

func TestServeOverStreamPairEndsCleanlyOnRemoteClose(t *testing.T) {
	testlog.Start(t)

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	server := relay.New(transport.NewStreamPair(serverR, serverW))
	require.NoError(t, server.Connect(context.Background()))
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), server, log.Logger) }()

	client := connect(t, transport.NewStreamPair(clientR, clientW))
	require.NoError(t, client.Send([]byte("ping"), false))
	payload, isError, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(payload))
	assert.False(t, isError)

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after remote close")
	}
}

func TestServerTCP(t *testing.T) {
	testlog.Start(t)

	srv, stop := startServer(t, "tcp", "127.0.0.1:0")
	defer stop()

	r := connect(t, transport.NewTCP(srv.Addr().String(), transport.DefaultConfig()))

	require.NoError(t, r.Send([]byte("ping"), false))
	payload, isError, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(payload))
	assert.False(t, isError)

	require.NoError(t, r.Send([]byte("boom"), false))
	payload, isError, err = r.Receive()
	require.NoError(t, err)
	assert.Equal(t, "boom", string(payload))
	assert.True(t, isError)

	require.NoError(t, r.Send(nil, false))
	msg, err := r.ReceiveMessage()
	require.NoError(t, err)
	assert.True(t, msg.IsRaw)
	assert.False(t, msg.IsError)
	assert.Empty(t, msg.Payload)
}

func TestServerUnixReplacesStaleSocket(t *testing.T) {
	testlog.Start(t)

	path := shortSocketPath(t)
	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	srv, stop := startServer(t, "unix", path)
	defer stop()

	r := connect(t, transport.NewUnix(srv.Addr().String(), transport.DefaultConfig()))
	require.NoError(t, r.Send([]byte("over unix"), true))
	payload, isError, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, "over unix", string(payload))
	assert.True(t, isError)
}

func TestServerServesConcurrentSessions(t *testing.T) {
	testlog.Start(t)

	srv, stop := startServer(t, "tcp", "127.0.0.1:0")
	defer stop()

	const sessions = 4
	errc := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		go func(i int) {
			r := relay.New(transport.NewTCP(srv.Addr().String(), transport.DefaultConfig()))
			defer r.Close()
			if err := r.Connect(context.Background()); err != nil {
				errc <- err
				return
			}
			want := []byte{'s', byte('0' + i)}
			if err := r.Send(want, false); err != nil {
				errc <- err
				return
			}
			got, _, err := r.Receive()
			if err == nil && string(got) != string(want) {
				err = assert.AnError
			}
			errc <- err
		}(i)
	}
	for i := 0; i < sessions; i++ {
		assert.NoError(t, <-errc)
	}
}

func TestServerStopClosesActiveSessions(t *testing.T) {
	testlog.Start(t)

	srv, stop := startServer(t, "tcp", "127.0.0.1:0")
	r := connect(t, transport.NewTCP(srv.Addr().String(), transport.DefaultConfig()))
	require.NoError(t, r.Send([]byte("hello"), false))
	_, _, err := r.Receive()
	require.NoError(t, err)

	stop()
	_, _, err = r.Receive()
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestListenRejectsNonSocketPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := Listen("unix", path)
	assert.Error(t, err)
}

func TestServerRejectsHugeAnnouncedLength(t *testing.T) {
	testlog.Start(t)

	srv, stop := startServer(t, "tcp", "127.0.0.1:0")
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	hdr := frame.EncodeHeader(frame.Header{Length: 0xFFFFFFF0})
	_, err = conn.Write(hdr)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func componentNames(body map[string]any) []string {
	var names []string
	list, _ := body["components"].([]any)
	for _, item := range list {
		rep, _ := item.(map[string]any)
		name, _ := rep["component"].(string)
		names = append(names, name)
	}
	return names
}

type fakeComponent struct {
	name  string
	code  int
	err   error
	block bool
}

func (f fakeComponent) Name() string { return f.name }

func (f fakeComponent) Status(ctx context.Context) (int, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.code, f.err
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)

	admin := NewAdmin("relayd", "127.0.0.1:0", "tcp://127.0.0.1:9007", nil)

	code, body := getJSON(t, admin.Handler(), "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tcp://127.0.0.1:9007", body["listen"])
	assert.Equal(t, []string{"admin"}, componentNames(body))

	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "framerelay_http_requests_total")
}

func TestAdminReadyTracksListener(t *testing.T) {
	testlog.Start(t)

	srv, stop := startServer(t, "tcp", "127.0.0.1:0")
	defer stop()
	admin := NewAdmin("relayd", "127.0.0.1:0", "tcp://"+srv.Addr().String(), nil)
	admin.Register(srv)
	admin.Sessions = srv.ActiveSessions

	code, body := getJSON(t, admin.Handler(), "/ready")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"admin", "listener"}, componentNames(body))

	code, body = getJSON(t, admin.Handler(), "/ready?component=listener&plugin=missing")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"listener"}, componentNames(body))

	r := connect(t, transport.NewTCP(srv.Addr().String(), transport.DefaultConfig()))
	require.NoError(t, r.Send([]byte("hello"), false))
	_, _, err := r.Receive()
	require.NoError(t, err)
	code, body = getJSON(t, admin.Handler(), "/sessions")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["active"])

	require.NoError(t, srv.Close())
	code, body = getJSON(t, admin.Handler(), "/ready?component=listener")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestAdminShutdownFlipsReady(t *testing.T) {
	testlog.Start(t)

	admin := NewAdmin("relayd", "127.0.0.1:0", "pipes", nil)
	admin.UnavailableStatusCode = http.StatusInternalServerError

	code, _ := getJSON(t, admin.Handler(), "/ready")
	require.Equal(t, http.StatusOK, code)

	admin.BeginShutdown()
	assert.True(t, admin.ShuttingDown())

	code, body := getJSON(t, admin.Handler(), "/ready")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "service is shutting down", body["message"])

	code, body = getJSON(t, admin.Handler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "shutting_down", body["status"])
}

func TestAdminComponentFailures(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		comp fakeComponent
		msg  string
	}{
		{name: "error", comp: fakeComponent{name: "store", err: errors.New("disk gone")}, msg: "disk gone"},
		{name: "server error", comp: fakeComponent{name: "store", code: http.StatusBadGateway}, msg: "component unavailable"},
		{name: "unexpected", comp: fakeComponent{name: "store", code: 42}, msg: "unexpected status code"},
		{name: "timeout", comp: fakeComponent{name: "store", block: true}, msg: "check timed out"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			admin := NewAdmin("relayd", "127.0.0.1:0", "pipes", nil)
			admin.CheckTimeout = 20 * time.Millisecond
			admin.Register(tc.comp)

			code, body := getJSON(t, admin.Handler(), "/health?component=store")
			assert.Equal(t, http.StatusServiceUnavailable, code)
			list, _ := body["components"].([]any)
			require.Len(t, list, 1)
			rep := list[0].(map[string]any)
			assert.Equal(t, tc.msg, rep["error_message"])

			code, _ = getJSON(t, admin.Handler(), "/health?component=admin")
			assert.Equal(t, http.StatusOK, code)
		})
	}
}

func TestNormalizeOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://localhost:3000"}, normalizeOrigins(nil))
	assert.Equal(t, []string{"https://ops.example"}, normalizeOrigins([]string{" ", " https://ops.example "}))
}
