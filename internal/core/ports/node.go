package ports

import (
	"context"
	"errors"
)

type InvoiceState int

const (
	InvoiceStateOpen InvoiceState = iota
	InvoiceStateSettled
	InvoiceStateCanceled
	InvoiceStateAccepted
)

func (s InvoiceState) String() string {
	switch s {
	case InvoiceStateOpen:
		return "OPEN"
	case InvoiceStateSettled:
		return "SETTLED"
	case InvoiceStateCanceled:
		return "CANCELED"
	case InvoiceStateAccepted:
		return "ACCEPTED"
	default:
		return "UNKNOWN"
	}
}

// ErrAlreadySettled is returned by SettleInvoice when the node reports the
// invoice as already settled. Callers treat it as success.
var ErrAlreadySettled = errors.New("invoice is already settled")

// HtlcRecords maps custom record ids to their raw value for one HTLC on the
// invoice's terminal hop.
type HtlcRecords map[uint64][]byte

// InvoiceUpdate is one snapshot from the node's per-invoice subscription.
type InvoiceUpdate struct {
	State InvoiceState
	Htlcs []HtlcRecords
}

// NodeClient is the settlement engine's view of the external payment node.
// The wire-level client behind it is out of scope for the core.
type NodeClient interface {
	// SubscribeInvoice opens a per-invoice event stream. The returned channel
	// is closed when the subscription ends; terminal stream errors arrive on
	// the error channel.
	SubscribeInvoice(ctx context.Context, paymentHash string) (<-chan InvoiceUpdate, <-chan error, error)
	// SettleInvoice reveals the preimage to finalize a hold invoice. Returns
	// ErrAlreadySettled when the node already knows the invoice as settled.
	SettleInvoice(ctx context.Context, preimage []byte) error
	Close()
}
