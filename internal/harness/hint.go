package harness

import (
	"errors"

	"github.com/alessio/shellescape"
	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/transport"
)

// PeerCommand returns the relayd invocation that would serve cfg's transport.
func PeerCommand(cfg config.HarnessConfig) []string {
	switch cfg.Kind() {
	case transport.KindTCP:
		return []string{"relayd", "-listen", "tcp://" + cfg.Addr}
	case transport.KindUnix:
		return []string{"relayd", "-listen", "unix://" + cfg.SocketPath}
	default:
		return []string{"relayd", "-listen", string(transport.KindPipes)}
	}
}

// PeerHint returns a shell-ready relayd command line when err means nothing
// is listening on the selected endpoint, and "" otherwise.
func PeerHint(cfg config.HarnessConfig, err error) string {
	if !errors.Is(err, transport.ErrConnectionRefused) && !errors.Is(err, transport.ErrSocketNotFound) {
		return ""
	}
	return shellescape.QuoteCommand(PeerCommand(cfg))
}
