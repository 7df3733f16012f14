package application

import (
	"errors"
	"strings"

	"github.com/tapgate/tapgate/internal/core/ports"
	"google.golang.org/grpc/status"
)

var (
	// ErrIncompleteContext signals a strategy invoked without the data it
	// needs, e.g. an internal settlement with sender but no sender wallet.
	ErrIncompleteContext = errors.New("incomplete settlement context")
	// ErrNodeRequired signals a Lightning settlement attempted without a
	// node reference.
	ErrNodeRequired = errors.New("node not provided")
	// ErrNoPreimage signals that no preimage could be resolved or generated.
	ErrNoPreimage = errors.New("no preimage available")
)

// isAlreadySettled recognizes the node-level "already settled" outcome, both
// as the typed sentinel and as a gRPC status carrying the node's message.
func isAlreadySettled(err error) bool {
	if errors.Is(err, ports.ErrAlreadySettled) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		return strings.Contains(strings.ToLower(st.Message()), "invoice is already settled")
	}
	return false
}

// nodeErrorMessage maps a node RPC failure to a user-facing reason where the
// failure is recognizable, otherwise it falls through to the raw error text.
func nodeErrorMessage(err error) string {
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "multiple asset channels found"):
		return "multiple channels found for this asset, select a specific channel"
	case strings.Contains(lower, "no asset channel balance"):
		return "insufficient channel balance for this asset"
	case strings.Contains(lower, "insufficient balance"):
		return "insufficient balance"
	default:
		return msg
	}
}
