package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tapgate/tapgate/internal/core/domain"
	dbtypes "github.com/tapgate/tapgate/internal/infrastructure/db/types"
	"github.com/timshannon/badgerhold/v4"
)

type invoiceRepository struct {
	store *badgerhold.Store
}

func NewInvoiceRepository(store *badgerhold.Store) dbtypes.InvoiceStore {
	return &invoiceRepository{store}
}

func (r *invoiceRepository) AddInvoice(
	ctx context.Context, invoice domain.Invoice,
) error {
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxInsert(tx, invoice.Id, invoice)
	} else {
		err = r.store.Insert(invoice.Id, invoice)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrUniqueExists) {
			return fmt.Errorf("invoice with payment hash %s already exists", invoice.PaymentHash)
		}
		return err
	}
	return nil
}

func (r *invoiceRepository) UpdateInvoice(
	ctx context.Context, invoice domain.Invoice,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpdate(tx, invoice.Id, invoice)
	}
	return r.store.Update(invoice.Id, invoice)
}

func (r *invoiceRepository) GetInvoiceWithPaymentHash(
	ctx context.Context, paymentHash string,
) (*domain.Invoice, error) {
	query := badgerhold.Where("PaymentHash").Eq(paymentHash)
	invoices, err := r.findInvoices(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(invoices) <= 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoices[0], nil
}

func (r *invoiceRepository) GetInvoiceWithId(
	ctx context.Context, id string,
) (*domain.Invoice, error) {
	query := badgerhold.Where("Id").Eq(id)
	invoices, err := r.findInvoices(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(invoices) <= 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoices[0], nil
}

func (r *invoiceRepository) GetInvoicesWithUser(
	ctx context.Context, userId string,
) ([]domain.Invoice, error) {
	query := badgerhold.Where("UserId").Eq(userId).SortBy("CreatedAt").Reverse()
	return r.findInvoices(ctx, query)
}

func (r *invoiceRepository) GetExpirableInvoices(
	ctx context.Context,
) ([]domain.Invoice, error) {
	now := time.Now()
	query := badgerhold.Where("Status").Eq(domain.InvoiceStatusPending).
		And("ExpiresAt").MatchFunc(func(val *badgerhold.RecordAccess) (bool, error) {
			expiresAt, ok := val.Field().(*time.Time)
			if !ok || expiresAt == nil {
				return false, nil
			}
			return expiresAt.Before(now), nil
		})
	return r.findInvoices(ctx, query)
}

func (r *invoiceRepository) findInvoices(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &invoices, query)
	} else {
		err = r.store.Find(&invoices, query)
	}

	return invoices, err
}
