package mocknode

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tapgate/tapgate/internal/core/ports"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type invoiceEntry struct {
	state   ports.InvoiceState
	subs    []chan ports.InvoiceUpdate
	errSubs []chan error
}

// Service is a deterministic in-memory node. Invoices are registered by
// payment hash, accepted and canceled through driver methods, and settled by
// preimage exactly like a real hold-invoice node. It backs tests and the
// standalone run mode where no external node is configured.
type Service struct {
	lock     sync.Mutex
	invoices map[string]*invoiceEntry
	closed   bool
}

func NewService() *Service {
	return &Service{invoices: make(map[string]*invoiceEntry)}
}

// RegisterInvoice makes the node aware of a hold invoice so later settle and
// subscribe calls can resolve it.
func (s *Service) RegisterInvoice(paymentHash string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.invoices[paymentHash]; !ok {
		s.invoices[paymentHash] = &invoiceEntry{state: ports.InvoiceStateOpen}
	}
}

func (s *Service) SubscribeInvoice(
	ctx context.Context, paymentHash string,
) (<-chan ports.InvoiceUpdate, <-chan error, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.invoices[paymentHash]
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "invoice not found")
	}

	updates := make(chan ports.InvoiceUpdate, 4)
	errs := make(chan error, 1)
	entry.subs = append(entry.subs, updates)
	entry.errSubs = append(entry.errSubs, errs)

	// Late subscribers still learn the current state.
	if entry.state != ports.InvoiceStateOpen {
		updates <- ports.InvoiceUpdate{State: entry.state}
	}
	return updates, errs, nil
}

func (s *Service) SettleInvoice(ctx context.Context, preimage []byte) error {
	paymentHash := hex.EncodeToString(chainhash.HashB(preimage))

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.invoices[paymentHash]
	if !ok {
		return status.Error(codes.NotFound, "invoice not found")
	}
	switch entry.state {
	case ports.InvoiceStateSettled:
		return ports.ErrAlreadySettled
	case ports.InvoiceStateCanceled:
		return status.Error(codes.FailedPrecondition, "invoice is canceled")
	}

	entry.state = ports.InvoiceStateSettled
	s.broadcast(entry, ports.InvoiceUpdate{State: ports.InvoiceStateSettled})
	return nil
}

// AcceptInvoice simulates an inbound HTLC reaching the hold state, carrying
// the given custom records on its terminal hop.
func (s *Service) AcceptInvoice(paymentHash string, htlcs ...ports.HtlcRecords) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.invoices[paymentHash]
	if !ok || entry.state != ports.InvoiceStateOpen {
		return
	}
	entry.state = ports.InvoiceStateAccepted
	s.broadcast(entry, ports.InvoiceUpdate{
		State: ports.InvoiceStateAccepted,
		Htlcs: htlcs,
	})
}

// CancelInvoice simulates a node-side cancellation or HTLC timeout.
func (s *Service) CancelInvoice(paymentHash string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.invoices[paymentHash]
	if !ok || entry.state == ports.InvoiceStateSettled {
		return
	}
	entry.state = ports.InvoiceStateCanceled
	s.broadcast(entry, ports.InvoiceUpdate{State: ports.InvoiceStateCanceled})
}

// State reports the node-side state of a registered invoice.
func (s *Service) State(paymentHash string) (ports.InvoiceState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	entry, ok := s.invoices[paymentHash]
	if !ok {
		return ports.InvoiceStateOpen, false
	}
	return entry.state, true
}

func (s *Service) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, entry := range s.invoices {
		for _, sub := range entry.subs {
			close(sub)
		}
		entry.subs = nil
	}
}

func (s *Service) broadcast(entry *invoiceEntry, update ports.InvoiceUpdate) {
	for _, sub := range entry.subs {
		select {
		case sub <- update:
		default:
		}
	}
}
