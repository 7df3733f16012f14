package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusExpired   = "expired"
	InvoiceStatusCancelled = "cancelled"
)

// Invoice is a hold-invoice backed asset transfer request. It is created once
// when the transfer is requested and only ever mutated by the settlement path
// (pending -> paid) or by explicit cancellation/expiry.
type Invoice struct {
	Id             string
	PaymentHash    string `badgerhold:"unique"`
	PaymentRequest string
	AssetId        string
	AssetAmount    uint64
	SatoshiAmount  uint64
	Description    string
	Status         string
	UserId         string
	WalletId       string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	PaidAt         *time.Time
}

func NewInvoice(
	paymentHash, paymentRequest, assetId string, assetAmount, satoshiAmount uint64,
	userId, walletId, description string, expiry time.Duration,
) (*Invoice, error) {
	now := time.Now()
	inv := &Invoice{
		Id:             uuid.New().String(),
		PaymentHash:    paymentHash,
		PaymentRequest: paymentRequest,
		AssetId:        assetId,
		AssetAmount:    assetAmount,
		SatoshiAmount:  satoshiAmount,
		Description:    description,
		Status:         InvoiceStatusPending,
		UserId:         userId,
		WalletId:       walletId,
		CreatedAt:      now,
	}
	if expiry > 0 {
		expiresAt := now.Add(expiry)
		inv.ExpiresAt = &expiresAt
	}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func (i *Invoice) validate() error {
	if len(i.PaymentHash) != 64 {
		return fmt.Errorf("invalid payment hash: %s", i.PaymentHash)
	}
	if len(i.AssetId) <= 0 {
		return fmt.Errorf("missing asset id")
	}
	if i.AssetAmount <= 0 {
		return fmt.Errorf("missing asset amount")
	}
	if len(i.WalletId) <= 0 {
		return fmt.Errorf("missing wallet id")
	}
	return nil
}

// MarkPaid moves the invoice to the paid status and stamps PaidAt. Status
// transitions are monotonic, a paid invoice never goes back to pending.
func (i *Invoice) MarkPaid() error {
	if i.Status == InvoiceStatusPaid {
		return ErrAlreadyPaid
	}
	if i.Status != InvoiceStatusPending {
		return fmt.Errorf("cannot mark %s invoice as paid", i.Status)
	}
	now := time.Now()
	i.Status = InvoiceStatusPaid
	i.PaidAt = &now
	return nil
}

func (i *Invoice) MarkExpired() error {
	if i.Status != InvoiceStatusPending {
		return fmt.Errorf("cannot expire %s invoice", i.Status)
	}
	i.Status = InvoiceStatusExpired
	return nil
}

func (i *Invoice) MarkCancelled() error {
	if i.Status != InvoiceStatusPending {
		return fmt.Errorf("cannot cancel %s invoice", i.Status)
	}
	i.Status = InvoiceStatusCancelled
	return nil
}

func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

func (i *Invoice) IsExpired(at time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(at)
}
