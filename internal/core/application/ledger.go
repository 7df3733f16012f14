package application

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
)

// RecordParams describes one ledger mutation. Amount is always a non-negative
// magnitude, TxType determines the sign of the balance delta.
type RecordParams struct {
	WalletId       string
	AssetId        string
	Amount         uint64
	TxType         string
	PaymentHash    string
	Fee            uint64
	Description    string
	CreateTxRecord bool
}

// Ledger maintains the per-wallet asset balances and the append-only
// transaction journal. It is the only code path permitted to mutate an
// AssetBalance row; every settlement strategy routes through it.
type Ledger struct {
	repoManager ports.RepoManager
}

func NewLedger(repoManager ports.RepoManager) *Ledger {
	return &Ledger{repoManager: repoManager}
}

// RecordTransaction appends a journal row (unless skipped) and applies the
// signed delta to the balance row, inserting it if missing. It runs inside
// whatever store transaction the caller's context carries; callers needing
// atomicity across several records wrap them in one gate transaction.
func (l *Ledger) RecordTransaction(
	ctx context.Context, params RecordParams,
) (*domain.AssetTransaction, *domain.AssetBalance, error) {
	delta := int64(params.Amount)
	if params.TxType == domain.TxTypeDebit {
		delta = -delta
	} else if params.TxType != domain.TxTypeCredit {
		return nil, nil, fmt.Errorf("invalid transaction type: %s", params.TxType)
	}

	var txRecord *domain.AssetTransaction
	if params.CreateTxRecord {
		tx, err := domain.NewAssetTransaction(
			params.WalletId, params.AssetId, params.PaymentHash,
			params.Amount, params.Fee, params.TxType, params.Description,
		)
		if err != nil {
			return nil, nil, err
		}
		if err := l.repoManager.Balances().AddTransaction(ctx, *tx); err != nil {
			return nil, nil, fmt.Errorf("failed to add transaction record: %s", err)
		}
		txRecord = tx
	}

	key := domain.BalanceKey{WalletId: params.WalletId, AssetId: params.AssetId}
	balance, err := l.repoManager.Balances().GetBalance(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrBalanceNotFound) {
		return nil, nil, fmt.Errorf("failed to fetch balance: %s", err)
	}

	if balance != nil {
		balance.Apply(delta, params.PaymentHash)
	} else {
		balance = domain.NewAssetBalance(params.WalletId, params.AssetId, delta, params.PaymentHash)
	}
	if err := l.repoManager.Balances().UpsertBalance(ctx, *balance); err != nil {
		return nil, nil, fmt.Errorf("failed to upsert balance: %s", err)
	}

	log.Debugf(
		"ledger updated for wallet %s, asset %s: %+d", params.WalletId, params.AssetId, delta,
	)
	return txRecord, balance, nil
}

// Balance returns the current balance row for a (wallet, asset) pair.
func (l *Ledger) Balance(ctx context.Context, walletId, assetId string) (*domain.AssetBalance, error) {
	return l.repoManager.Balances().GetBalance(
		ctx, domain.BalanceKey{WalletId: walletId, AssetId: assetId},
	)
}

// WalletBalances lists all balances held by a wallet.
func (l *Ledger) WalletBalances(ctx context.Context, walletId string) ([]domain.AssetBalance, error) {
	return l.repoManager.Balances().GetBalancesWithWallet(ctx, walletId)
}

// Transactions lists journal entries, optionally filtered by wallet and asset.
func (l *Ledger) Transactions(
	ctx context.Context, walletId, assetId string, limit int,
) ([]domain.AssetTransaction, error) {
	return l.repoManager.Balances().GetTransactions(ctx, walletId, assetId, limit)
}
