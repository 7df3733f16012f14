package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TxTypeCredit = "credit"
	TxTypeDebit  = "debit"
)

// AssetBalance is the durable balance for a (wallet, asset) pair. The balance
// always equals the signed sum of the AssetTransaction journal for the same
// key; only the ledger mutates it.
type AssetBalance struct {
	Id              string
	WalletId        string
	AssetId         string
	Balance         int64
	LastPaymentHash string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BalanceKey identifies an AssetBalance row.
type BalanceKey struct {
	WalletId string
	AssetId  string
}

func NewAssetBalance(walletId, assetId string, delta int64, paymentHash string) *AssetBalance {
	now := time.Now()
	return &AssetBalance{
		Id:              uuid.New().String(),
		WalletId:        walletId,
		AssetId:         assetId,
		Balance:         delta,
		LastPaymentHash: paymentHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Apply adds a signed delta to the balance and refreshes the bookkeeping
// fields. An empty payment hash leaves LastPaymentHash untouched.
func (b *AssetBalance) Apply(delta int64, paymentHash string) {
	b.Balance += delta
	if len(paymentHash) > 0 {
		b.LastPaymentHash = paymentHash
	}
	b.UpdatedAt = time.Now()
}

// AssetTransaction is an immutable, append-only journal entry. Amount is an
// unsigned magnitude, Type carries the sign.
type AssetTransaction struct {
	Id          string
	WalletId    string
	AssetId     string
	PaymentHash string
	Amount      uint64
	Fee         uint64
	Description string
	Type        string
	CreatedAt   time.Time
}

func NewAssetTransaction(
	walletId, assetId, paymentHash string, amount, fee uint64, txType, description string,
) (*AssetTransaction, error) {
	if txType != TxTypeCredit && txType != TxTypeDebit {
		return nil, fmt.Errorf("invalid transaction type: %s", txType)
	}
	if len(walletId) <= 0 {
		return nil, fmt.Errorf("missing wallet id")
	}
	if len(assetId) <= 0 {
		return nil, fmt.Errorf("missing asset id")
	}
	return &AssetTransaction{
		Id:          uuid.New().String(),
		WalletId:    walletId,
		AssetId:     assetId,
		PaymentHash: paymentHash,
		Amount:      amount,
		Fee:         fee,
		Description: description,
		Type:        txType,
		CreatedAt:   time.Now(),
	}, nil
}

// SignedAmount returns the balance delta this journal entry represents.
func (t *AssetTransaction) SignedAmount() int64 {
	if t.Type == TxTypeDebit {
		return -int64(t.Amount)
	}
	return int64(t.Amount)
}
