package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const PaymentStatusCompleted = "completed"

// Payment records an outbound transfer attempt that reached a terminal state.
// Rows are write-once.
type Payment struct {
	Id             string
	PaymentHash    string
	PaymentRequest string
	AssetId        string
	AssetAmount    uint64
	FeeSats        uint64
	Description    string
	Status         string
	UserId         string
	WalletId       string
	Preimage       string
	CreatedAt      time.Time
}

func NewPayment(
	paymentHash, paymentRequest, assetId string, assetAmount, feeSats uint64,
	userId, walletId, description, preimage string,
) (*Payment, error) {
	if len(paymentHash) != 64 {
		return nil, fmt.Errorf("invalid payment hash: %s", paymentHash)
	}
	if len(walletId) <= 0 {
		return nil, fmt.Errorf("missing wallet id")
	}
	return &Payment{
		Id:             uuid.New().String(),
		PaymentHash:    paymentHash,
		PaymentRequest: paymentRequest,
		AssetId:        assetId,
		AssetAmount:    assetAmount,
		FeeSats:        feeSats,
		Description:    description,
		Status:         PaymentStatusCompleted,
		UserId:         userId,
		WalletId:       walletId,
		Preimage:       preimage,
		CreatedAt:      time.Now(),
	}, nil
}
