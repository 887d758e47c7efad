package harness

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/framerelay/internal/tools"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog"
)

const spawnGrace = 2 * time.Second

// spawnedPeer is a pipes transport over a child's stdio. Closing it ends the
// child's input and reaps it.
type spawnedPeer struct {
	*transport.StreamPair
	proc *tools.Process
	log  zerolog.Logger
}

func spawn(argv []string, logger zerolog.Logger) (*spawnedPeer, error) {
	proc, err := tools.Start(argv[0], argv[1:]...)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("pid", proc.Pid()).Str("cmd", strings.Join(argv, " ")).Msg("spawned peer")
	return &spawnedPeer{
		StreamPair: transport.NewStreamPair(proc.Stdout, proc.Stdin),
		proc:       proc,
		log:        logger,
	}, nil
}

func (s *spawnedPeer) Close() error {
	closeErr := s.StreamPair.Close()
	code, err := s.proc.Stop(spawnGrace)
	s.log.Debug().Int("pid", s.proc.Pid()).Int32("exit", code).Msg("peer exited")
	if err != nil && code < 0 {
		// Killed after the grace period.
		return errors.Join(closeErr, err)
	}
	return closeErr
}
