package ports

import (
	"context"
	"time"
)

// SettlementNotice is pushed to users after a settlement completed. Delivery
// is best-effort, failures never roll back a settlement.
type SettlementNotice struct {
	UserId      string
	PaymentHash string
	Status      string
	AssetId     string
	AssetAmount uint64
	TxType      string
	PaidAt      *time.Time
}

type Notifier interface {
	NotifySettlement(ctx context.Context, notice SettlementNotice) error
}
