package tools

import (
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/danmuck/framerelay/internal/testutil/testlog"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestStartPipesStdio(t *testing.T) {
	testlog.Start(t)
	requireBinary(t, "cat")

	p, err := Start("cat")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := p.Stdin.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(p.Stdout, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("unexpected echo %q", buf)
	}
	code, err := p.Stop(2 * time.Second)
	if err != nil || code != 0 {
		t.Fatalf("stop code=%d err=%v", code, err)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	testlog.Start(t)
	requireBinary(t, "sleep")

	p, err := Start("sleep", "30")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	code, err := p.Stop(50 * time.Millisecond)
	if err == nil || code == 0 {
		t.Fatalf("expected killed child, code=%d err=%v", code, err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("stop did not kill promptly")
	}
}

func TestStartMissingBinary(t *testing.T) {
	if _, err := Start("framerelay-no-such-binary"); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatalf("nil should be 0")
	}
	if ExitCode(&exec.Error{Name: "x", Err: exec.ErrNotFound}) != 127 {
		t.Fatalf("exec error should be 127")
	}
	if ExitCode(errors.New("other")) != 1 {
		t.Fatalf("other error should be 1")
	}
}
