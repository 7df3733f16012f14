package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
	"github.com/tapgate/tapgate/internal/infrastructure/db"
)

const (
	paymentHash = "a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1"
	otherHash   = "b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2"
	assetId     = "1111111111111111111111111111111111111111111111111111111111111111"
)

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_store",
			config: db.ServiceConfig{
				DataStoreType:   "badger",
				DataStoreConfig: []interface{}{"", nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			require.NotNil(t, svc)

			testInvoiceRepository(t, svc)
			testPaymentRepository(t, svc)
			testBalanceRepository(t, svc)
			testTxGate(t, svc)

			svc.Close()
		})
	}
}

func testInvoiceRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_invoice_repository", func(t *testing.T) {
		ctx := context.Background()

		invoice, err := domain.NewInvoice(
			paymentHash, "lnbc1...", assetId, 100, 1000,
			"user-1", "wallet-1", "test", time.Hour,
		)
		require.NoError(t, err)

		err = svc.Invoices().AddInvoice(ctx, *invoice)
		require.NoError(t, err)

		// The payment hash is unique.
		dup, err := domain.NewInvoice(
			paymentHash, "", assetId, 5, 0, "user-2", "wallet-2", "", 0,
		)
		require.NoError(t, err)
		err = svc.Invoices().AddInvoice(ctx, *dup)
		require.Error(t, err)

		got, err := svc.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
		require.NoError(t, err)
		require.Equal(t, invoice.Id, got.Id)
		require.Equal(t, domain.InvoiceStatusPending, got.Status)

		got, err = svc.Invoices().GetInvoiceWithId(ctx, invoice.Id)
		require.NoError(t, err)
		require.Equal(t, invoice.PaymentHash, got.PaymentHash)

		_, err = svc.Invoices().GetInvoiceWithPaymentHash(ctx, otherHash)
		require.ErrorIs(t, err, domain.ErrInvoiceNotFound)

		require.NoError(t, got.MarkPaid())
		require.NoError(t, svc.Invoices().UpdateInvoice(ctx, *got))

		updated, err := svc.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
		require.NoError(t, err)
		require.True(t, updated.IsPaid())
		require.NotNil(t, updated.PaidAt)

		withUser, err := svc.Invoices().GetInvoicesWithUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, withUser, 1)

		// Pending invoice past its expiry shows up in the expirable set.
		expirable, err := domain.NewInvoice(
			otherHash, "", assetId, 10, 0, "user-1", "wallet-1", "", time.Minute,
		)
		require.NoError(t, err)
		past := time.Now().Add(-time.Minute)
		expirable.ExpiresAt = &past
		require.NoError(t, svc.Invoices().AddInvoice(ctx, *expirable))

		expired, err := svc.Invoices().GetExpirableInvoices(ctx)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, otherHash, expired[0].PaymentHash)
	})
}

func testPaymentRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_payment_repository", func(t *testing.T) {
		ctx := context.Background()

		payment, err := domain.NewPayment(
			paymentHash, "lnbc1...", assetId, 50, 2,
			"user-1", "wallet-1", "", "00ff",
		)
		require.NoError(t, err)
		require.NoError(t, svc.Payments().AddPayment(ctx, *payment))

		got, err := svc.Payments().GetPaymentWithPaymentHash(ctx, paymentHash)
		require.NoError(t, err)
		require.Equal(t, payment.Id, got.Id)

		_, err = svc.Payments().GetPaymentWithPaymentHash(ctx, otherHash)
		require.ErrorIs(t, err, domain.ErrPaymentNotFound)

		withUser, err := svc.Payments().GetPaymentsWithUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, withUser, 1)
	})
}

func testBalanceRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_balance_repository", func(t *testing.T) {
		ctx := context.Background()
		key := domain.BalanceKey{WalletId: "wallet-1", AssetId: assetId}

		_, err := svc.Balances().GetBalance(ctx, key)
		require.ErrorIs(t, err, domain.ErrBalanceNotFound)

		balance := domain.NewAssetBalance("wallet-1", assetId, 100, paymentHash)
		require.NoError(t, svc.Balances().UpsertBalance(ctx, *balance))

		got, err := svc.Balances().GetBalance(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(100), got.Balance)

		got.Apply(-40, otherHash)
		require.NoError(t, svc.Balances().UpsertBalance(ctx, *got))

		got, err = svc.Balances().GetBalance(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(60), got.Balance)
		require.Equal(t, otherHash, got.LastPaymentHash)

		withWallet, err := svc.Balances().GetBalancesWithWallet(ctx, "wallet-1")
		require.NoError(t, err)
		require.Len(t, withWallet, 1)

		for i := 0; i < 3; i++ {
			tx, err := domain.NewAssetTransaction(
				"wallet-1", assetId, paymentHash, uint64(10+i), 0,
				domain.TxTypeCredit, fmt.Sprintf("tx %d", i),
			)
			require.NoError(t, err)
			require.NoError(t, svc.Balances().AddTransaction(ctx, *tx))
		}

		txs, err := svc.Balances().GetTransactions(ctx, "wallet-1", assetId, 0)
		require.NoError(t, err)
		require.Len(t, txs, 3)

		limited, err := svc.Balances().GetTransactions(ctx, "wallet-1", "", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
	})
}

func testTxGate(t *testing.T, svc ports.RepoManager) {
	t.Run("test_tx_gate", func(t *testing.T) {
		ctx := context.Background()
		key := domain.BalanceKey{WalletId: "wallet-gate", AssetId: assetId}

		// A failing unit of work leaves nothing behind.
		err := svc.Gate().WithTransaction(ctx, func(ctx context.Context) error {
			balance := domain.NewAssetBalance("wallet-gate", assetId, 999, "")
			if err := svc.Balances().UpsertBalance(ctx, *balance); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		})
		require.EqualError(t, err, "boom")

		_, err = svc.Balances().GetBalance(ctx, key)
		require.ErrorIs(t, err, domain.ErrBalanceNotFound)

		// Nested calls join the outer transaction.
		err = svc.Gate().WithTransaction(ctx, func(ctx context.Context) error {
			return svc.Gate().WithTransaction(ctx, func(ctx context.Context) error {
				balance := domain.NewAssetBalance("wallet-gate", assetId, 10, "")
				return svc.Balances().UpsertBalance(ctx, *balance)
			})
		})
		require.NoError(t, err)

		got, err := svc.Balances().GetBalance(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(10), got.Balance)

		// Contending increments all land despite transaction conflicts.
		numWorkers := 10
		wg := &sync.WaitGroup{}
		wg.Add(numWorkers)
		errs := make(chan error, numWorkers)
		for i := 0; i < numWorkers; i++ {
			go func() {
				defer wg.Done()
				errs <- svc.Gate().WithTransaction(ctx, func(ctx context.Context) error {
					balance, err := svc.Balances().GetBalance(ctx, key)
					if err != nil {
						return err
					}
					balance.Apply(1, "")
					return svc.Balances().UpsertBalance(ctx, *balance)
				}, ports.WithMaxRetries(50))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err = svc.Balances().GetBalance(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(10+numWorkers), got.Balance)
	})
}
