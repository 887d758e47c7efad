package tools

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is a running child. Stdin writes to the child; Stdout reads what it
// writes. The child's stderr is passed through to ours.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	cmd      *exec.Cmd
	waitOnce sync.Once
	waitErr  error
}

// Start launches name with args.
func Start(name string, args ...string) (*Process, error) {
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = os.Stderr
	err = cmd.Start()
	// The child holds its own copies now.
	_ = childIn.Close()
	_ = childOut.Close()
	if err != nil {
		_ = parentOut.Close()
		_ = parentIn.Close()
		return nil, fmt.Errorf("tools: start %s: %w", name, err)
	}
	return &Process{Stdin: parentOut, Stdout: parentIn, cmd: cmd}, nil
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Stop closes the child's stdin and waits up to grace for it to exit, then
// kills it. It returns the child's exit code.
func (p *Process) Stop(grace time.Duration) (int32, error) {
	_ = p.Stdin.Close()
	done := make(chan struct{})
	go func() {
		p.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-done
	}
	_ = p.Stdout.Close()
	return ExitCode(p.waitErr), p.waitErr
}

func (p *Process) wait() {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
}

// ExitCode maps a Wait or Run error onto a shell-style exit code: 0 on
// success, the child's code when it exited, 127 when it never ran.
func ExitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
