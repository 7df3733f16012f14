package dbtypes

import "github.com/tapgate/tapgate/internal/core/domain"

// Store contracts implemented by each db backend. The backing database is
// owned by the repo manager; individual stores never close it.

type InvoiceStore interface {
	domain.InvoiceRepository
}

type PaymentStore interface {
	domain.PaymentRepository
}

type BalanceStore interface {
	domain.BalanceRepository
}
