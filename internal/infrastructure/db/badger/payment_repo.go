package badgerdb

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/tapgate/tapgate/internal/core/domain"
	dbtypes "github.com/tapgate/tapgate/internal/infrastructure/db/types"
	"github.com/timshannon/badgerhold/v4"
)

type paymentRepository struct {
	store *badgerhold.Store
}

func NewPaymentRepository(store *badgerhold.Store) dbtypes.PaymentStore {
	return &paymentRepository{store}
}

func (r *paymentRepository) AddPayment(
	ctx context.Context, payment domain.Payment,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, payment.Id, payment)
	}
	return r.store.Insert(payment.Id, payment)
}

func (r *paymentRepository) GetPaymentsWithUser(
	ctx context.Context, userId string,
) ([]domain.Payment, error) {
	query := badgerhold.Where("UserId").Eq(userId).SortBy("CreatedAt").Reverse()
	return r.findPayments(ctx, query)
}

func (r *paymentRepository) GetPaymentWithPaymentHash(
	ctx context.Context, paymentHash string,
) (*domain.Payment, error) {
	query := badgerhold.Where("PaymentHash").Eq(paymentHash)
	payments, err := r.findPayments(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(payments) <= 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return &payments[0], nil
}

func (r *paymentRepository) findPayments(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Payment, error) {
	var payments []domain.Payment
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &payments, query)
	} else {
		err = r.store.Find(&payments, query)
	}

	return payments, err
}
