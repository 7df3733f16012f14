package ports

import (
	"context"

	"github.com/tapgate/tapgate/internal/core/domain"
)

// TxOptions tune one transactional execution.
type TxOptions struct {
	MaxRetries int
}

type TxOption func(*TxOptions)

// WithMaxRetries overrides the gate's default retry count for contention
// errors.
func WithMaxRetries(n int) TxOption {
	return func(o *TxOptions) {
		o.MaxRetries = n
	}
}

// TxGate executes a unit of work inside one exclusive store transaction. A
// fixed-size slot pool bounds concurrent transactions; contention errors are
// retried with exponential backoff before surfacing. When the context already
// carries a transaction the work joins it and no slot is acquired.
type TxGate interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error
}

type RepoManager interface {
	Invoices() domain.InvoiceRepository
	Payments() domain.PaymentRepository
	Balances() domain.BalanceRepository
	Gate() TxGate
	Close()
}
