package domain

import (
	"context"
)

type InvoiceRepository interface {
	AddInvoice(ctx context.Context, invoice Invoice) error
	UpdateInvoice(ctx context.Context, invoice Invoice) error
	GetInvoiceWithPaymentHash(ctx context.Context, paymentHash string) (*Invoice, error)
	GetInvoiceWithId(ctx context.Context, id string) (*Invoice, error)
	GetInvoicesWithUser(ctx context.Context, userId string) ([]Invoice, error)
	GetExpirableInvoices(ctx context.Context) ([]Invoice, error)
}

type PaymentRepository interface {
	AddPayment(ctx context.Context, payment Payment) error
	GetPaymentsWithUser(ctx context.Context, userId string) ([]Payment, error)
	GetPaymentWithPaymentHash(ctx context.Context, paymentHash string) (*Payment, error)
}

type BalanceRepository interface {
	UpsertBalance(ctx context.Context, balance AssetBalance) error
	GetBalance(ctx context.Context, key BalanceKey) (*AssetBalance, error)
	GetBalancesWithWallet(ctx context.Context, walletId string) ([]AssetBalance, error)
	AddTransaction(ctx context.Context, tx AssetTransaction) error
	GetTransactions(ctx context.Context, walletId, assetId string, limit int) ([]AssetTransaction, error)
}
