package badgerdb

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/tapgate/tapgate/internal/core/domain"
	dbtypes "github.com/tapgate/tapgate/internal/infrastructure/db/types"
	"github.com/timshannon/badgerhold/v4"
)

type balanceRepository struct {
	store *badgerhold.Store
}

func NewBalanceRepository(store *badgerhold.Store) dbtypes.BalanceStore {
	return &balanceRepository{store}
}

func (r *balanceRepository) UpsertBalance(
	ctx context.Context, balance domain.AssetBalance,
) error {
	key := domain.BalanceKey{WalletId: balance.WalletId, AssetId: balance.AssetId}
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpsert(tx, key, balance)
	}
	return r.store.Upsert(key, balance)
}

func (r *balanceRepository) GetBalance(
	ctx context.Context, key domain.BalanceKey,
) (*domain.AssetBalance, error) {
	balance := domain.AssetBalance{}
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, key, &balance)
	} else {
		err = r.store.Get(key, &balance)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

func (r *balanceRepository) GetBalancesWithWallet(
	ctx context.Context, walletId string,
) ([]domain.AssetBalance, error) {
	query := badgerhold.Where("WalletId").Eq(walletId)
	var balances []domain.AssetBalance
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &balances, query)
	} else {
		err = r.store.Find(&balances, query)
	}

	return balances, err
}

func (r *balanceRepository) AddTransaction(
	ctx context.Context, assetTx domain.AssetTransaction,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxInsert(tx, assetTx.Id, assetTx)
	}
	return r.store.Insert(assetTx.Id, assetTx)
}

func (r *balanceRepository) GetTransactions(
	ctx context.Context, walletId, assetId string, limit int,
) ([]domain.AssetTransaction, error) {
	query := badgerhold.Where("Id").Ne("")
	if len(walletId) > 0 {
		query = badgerhold.Where("WalletId").Eq(walletId)
		if len(assetId) > 0 {
			query = query.And("AssetId").Eq(assetId)
		}
	} else if len(assetId) > 0 {
		query = badgerhold.Where("AssetId").Eq(assetId)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var txs []domain.AssetTransaction
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &txs, query)
	} else {
		err = r.store.Find(&txs, query)
	}
	return txs, err
}
