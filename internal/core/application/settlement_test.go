package application_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"github.com/tapgate/tapgate/internal/core/application"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
	cachestore "github.com/tapgate/tapgate/internal/infrastructure/cache/gocache"
	badgerdb "github.com/tapgate/tapgate/internal/infrastructure/db/badger"
	mocknode "github.com/tapgate/tapgate/internal/infrastructure/node/mock"
	"github.com/tapgate/tapgate/internal/infrastructure/notifier"
)

const testAssetId = "1111111111111111111111111111111111111111111111111111111111111111"

type testEnv struct {
	svc      application.Service
	repo     ports.RepoManager
	node     *mocknode.Service
	notifier *notifier.Notifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := badgerdb.NewRepoManager("", nil)
	require.NoError(t, err)

	node := mocknode.NewService()
	notifySvc := notifier.NewService()
	svc := application.NewService(
		repo, cachestore.NewCache(time.Hour), node, notifySvc, nil, 0,
	)
	t.Cleanup(svc.Stop)

	return &testEnv{svc: svc, repo: repo, node: node, notifier: notifySvc}
}

func newPreimage(t *testing.T) (preimageHex, paymentHash string) {
	t.Helper()
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf), hex.EncodeToString(chainhash.HashB(buf))
}

func registerInvoice(
	t *testing.T, env *testEnv, paymentHash, preimage, userId, walletId string, amount uint64,
) *domain.Invoice {
	t.Helper()
	invoice, err := env.svc.RegisterInvoice(context.Background(), application.InvoiceParams{
		PaymentHash: paymentHash,
		AssetId:     testAssetId,
		AssetAmount: amount,
		UserId:      userId,
		WalletId:    walletId,
		Description: "test transfer",
		Expiry:      time.Hour,
		Preimage:    preimage,
	})
	require.NoError(t, err)
	return invoice
}

// requireBalanceInvariant checks that the stored balance equals the signed
// sum of the journal for the same (wallet, asset) pair.
func requireBalanceInvariant(t *testing.T, env *testEnv, walletId string) {
	t.Helper()
	ctx := context.Background()

	balance, err := env.svc.Ledger().Balance(ctx, walletId, testAssetId)
	require.NoError(t, err)

	txs, err := env.svc.Ledger().Transactions(ctx, walletId, testAssetId, 0)
	require.NoError(t, err)

	var sum int64
	for _, tx := range txs {
		sum += tx.SignedAmount()
	}
	require.Equal(t, sum, balance.Balance)
}

func TestSettleInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "receiver", "wallet-r", 100)

	result, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
	})
	require.NoError(t, err)
	require.False(t, result.AlreadySettled)
	require.True(t, result.Internal)
	require.NotEmpty(t, result.Preimage)
	require.NotNil(t, result.UpdatedInvoice)
	require.True(t, result.UpdatedInvoice.IsPaid())

	balance, err := env.svc.Ledger().Balance(ctx, "wallet-r", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)

	txs, err := env.svc.Ledger().Transactions(ctx, "wallet-r", testAssetId, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.TxTypeCredit, txs[0].Type)

	requireBalanceInvariant(t, env, "wallet-r")

	// A duplicate trigger is a no-op success.
	dup, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
	})
	require.NoError(t, err)
	require.True(t, dup.AlreadySettled)

	txs, err = env.svc.Ledger().Transactions(ctx, "wallet-r", testAssetId, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestSettleInternalWithSender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "receiver", "wallet-r", 100)

	result, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
		Sender: &application.SenderInfo{
			WalletId: "wallet-s",
			UserId:   "sender",
		},
	})
	require.NoError(t, err)
	require.True(t, result.Internal)

	receiverBalance, err := env.svc.Ledger().Balance(ctx, "wallet-r", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(100), receiverBalance.Balance)

	senderBalance, err := env.svc.Ledger().Balance(ctx, "wallet-s", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(-100), senderBalance.Balance)

	requireBalanceInvariant(t, env, "wallet-r")
	requireBalanceInvariant(t, env, "wallet-s")
}

func TestSettleInternalWithSenderMissingInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "receiver", "wallet-r", 100)

	_, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
		Sender:      &application.SenderInfo{WalletId: "wallet-s"},
	})
	require.ErrorIs(t, err, application.ErrIncompleteContext)

	// Nothing was marked settled, a retry with full info succeeds.
	result, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
		Sender: &application.SenderInfo{
			WalletId: "wallet-s",
			UserId:   "sender",
		},
	})
	require.NoError(t, err)
	require.False(t, result.AlreadySettled)
}

func TestSettleInternalUnknownInvoice(t *testing.T) {
	env := newTestEnv(t)
	_, paymentHash := newPreimage(t)

	_, err := env.svc.Settle(context.Background(), application.SettleRequest{
		PaymentHash: paymentHash,
		IsInternal:  true,
	})
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestSettleLightning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	preimage, paymentHash := newPreimage(t)

	env.node.RegisterInvoice(paymentHash)
	registerInvoice(t, env, paymentHash, preimage, "receiver", "wallet-r", 42)

	result, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
	})
	require.NoError(t, err)
	require.True(t, result.LightningSettled)
	require.Equal(t, preimage, result.Preimage)

	state, ok := env.node.State(paymentHash)
	require.True(t, ok)
	require.Equal(t, ports.InvoiceStateSettled, state)

	invoice, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	require.NoError(t, err)
	require.True(t, invoice.IsPaid())

	balance, err := env.svc.Ledger().Balance(ctx, "wallet-r", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(42), balance.Balance)
	requireBalanceInvariant(t, env, "wallet-r")
}

func TestSettleLightningAlreadySettledOnNode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	preimage, paymentHash := newPreimage(t)

	env.node.RegisterInvoice(paymentHash)
	registerInvoice(t, env, paymentHash, preimage, "receiver", "wallet-r", 42)

	// The node settled in a previous run.
	rawPreimage, err := hex.DecodeString(preimage)
	require.NoError(t, err)
	require.NoError(t, env.node.SettleInvoice(ctx, rawPreimage))

	result, err := env.svc.Settle(ctx, application.SettleRequest{
		PaymentHash: paymentHash,
	})
	require.NoError(t, err)
	require.True(t, result.LightningSettled)

	invoice, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	require.NoError(t, err)
	require.True(t, invoice.IsPaid())
}

func TestSettleLightningUnknownOnNode(t *testing.T) {
	env := newTestEnv(t)
	_, paymentHash := newPreimage(t)

	_, err := env.svc.Settle(context.Background(), application.SettleRequest{
		PaymentHash: paymentHash,
	})
	require.Error(t, err)
}

func TestSettleConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "receiver", "wallet-r", 100)

	numWorkers := 8
	wg := &sync.WaitGroup{}
	wg.Add(numWorkers)
	errs := make(chan error, numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			_, err := env.svc.Settle(ctx, application.SettleRequest{
				PaymentHash: paymentHash,
				IsInternal:  true,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// The credit landed exactly once.
	balance, err := env.svc.Ledger().Balance(ctx, "wallet-r", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)

	txs, err := env.svc.Ledger().Transactions(ctx, "wallet-r", testAssetId, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	requireBalanceInvariant(t, env, "wallet-r")
}

func TestProcessPaymentSettlementInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "receiver", "wallet-r", 100)

	result, err := env.svc.ProcessPaymentSettlement(ctx, application.PaymentParams{
		PaymentHash: paymentHash,
		AssetId:     testAssetId,
		AssetAmount: 100,
		UserId:      "sender",
		WalletId:    "wallet-s",
		IsInternal:  true,
		Sender: &application.SenderInfo{
			WalletId: "wallet-s",
			UserId:   "sender",
			AssetId:  testAssetId,
		},
	})
	require.NoError(t, err)
	require.True(t, result.Internal)
	require.NotEmpty(t, result.Preimage)

	payment, err := env.repo.Payments().GetPaymentWithPaymentHash(ctx, paymentHash)
	require.NoError(t, err)
	require.Equal(t, "wallet-s", payment.WalletId)

	// Ledger was balanced by the settlement, not the payment record.
	senderBalance, err := env.svc.Ledger().Balance(ctx, "wallet-s", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(-100), senderBalance.Balance)
	requireBalanceInvariant(t, env, "wallet-s")
}

func TestRecordPaymentExternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	preimage, paymentHash := newPreimage(t)

	payment, err := env.svc.RecordPayment(ctx, application.PaymentParams{
		PaymentHash: paymentHash,
		AssetId:     testAssetId,
		AssetAmount: 60,
		FeeSats:     3,
		UserId:      "sender",
		WalletId:    "wallet-s",
		Preimage:    preimage,
	})
	require.NoError(t, err)
	require.NotNil(t, payment)

	balance, err := env.svc.Ledger().Balance(ctx, "wallet-s", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(-60), balance.Balance)
	requireBalanceInvariant(t, env, "wallet-s")

	// A duplicate record attempt is skipped.
	dup, err := env.svc.RecordPayment(ctx, application.PaymentParams{
		PaymentHash: paymentHash,
		AssetId:     testAssetId,
		AssetAmount: 60,
		UserId:      "sender",
		WalletId:    "wallet-s",
	})
	require.NoError(t, err)
	require.Nil(t, dup)

	balance, err = env.svc.Ledger().Balance(ctx, "wallet-s", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(-60), balance.Balance)
}

func TestValidateForSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unknown", func(t *testing.T) {
		_, hash := newPreimage(t)
		_, err := env.svc.ValidateForSettlement(ctx, hash)
		require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
	})

	t.Run("pending", func(t *testing.T) {
		_, hash := newPreimage(t)
		registerInvoice(t, env, hash, "", "receiver", "wallet-r", 10)
		invoice, err := env.svc.ValidateForSettlement(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, invoice)
	})

	t.Run("already_paid", func(t *testing.T) {
		_, hash := newPreimage(t)
		registerInvoice(t, env, hash, "", "receiver", "wallet-r", 10)
		_, err := env.svc.Settle(ctx, application.SettleRequest{
			PaymentHash: hash, IsInternal: true,
		})
		require.NoError(t, err)

		_, err = env.svc.ValidateForSettlement(ctx, hash)
		require.ErrorIs(t, err, domain.ErrAlreadyPaid)
	})

	t.Run("expired", func(t *testing.T) {
		_, hash := newPreimage(t)
		invoice := registerInvoice(t, env, hash, "", "receiver", "wallet-r", 10)
		past := time.Now().Add(-time.Minute)
		invoice.ExpiresAt = &past
		require.NoError(t, env.repo.Invoices().UpdateInvoice(ctx, *invoice))

		_, err := env.svc.ValidateForSettlement(ctx, hash)
		require.ErrorIs(t, err, domain.ErrInvoiceExpired)
	})
}

func TestSelfAndInternalChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, paymentHash := newPreimage(t)

	registerInvoice(t, env, paymentHash, "", "alice", "wallet-a", 10)

	internal, err := env.svc.IsInternalPayment(ctx, paymentHash)
	require.NoError(t, err)
	require.True(t, internal)

	_, unknownHash := newPreimage(t)
	internal, err = env.svc.IsInternalPayment(ctx, unknownHash)
	require.NoError(t, err)
	require.False(t, internal)

	self, err := env.svc.IsSelfPayment(ctx, paymentHash, "alice")
	require.NoError(t, err)
	require.True(t, self)

	self, err = env.svc.IsSelfPayment(ctx, paymentHash, "bob")
	require.NoError(t, err)
	require.False(t, self)
}

func TestExpirePendingInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, freshHash := newPreimage(t)
	registerInvoice(t, env, freshHash, "", "alice", "wallet-a", 10)

	_, staleHash := newPreimage(t)
	stale := registerInvoice(t, env, staleHash, "", "alice", "wallet-a", 10)
	past := time.Now().Add(-time.Minute)
	stale.ExpiresAt = &past
	require.NoError(t, env.repo.Invoices().UpdateInvoice(ctx, *stale))

	count, err := env.svc.ExpirePendingInvoices(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	expired, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, staleHash)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusExpired, expired.Status)

	pending, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, freshHash)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusPending, pending.Status)
}

func TestWatchInvoiceSettlesAcceptedHtlc(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	preimage, paymentHash := newPreimage(t)

	env.node.RegisterInvoice(paymentHash)
	registerInvoice(t, env, paymentHash, preimage, "receiver", "wallet-r", 42)

	notices := env.notifier.Subscribe()

	rawAssetId := make([]byte, 32)
	rawAssetId[0] = 0x11
	scriptKey := make([]byte, 33)
	scriptKey[0] = 0x02
	record := append([]byte{0x00, 0x20}, rawAssetId...)
	record = append(record, 0x01, 0x40)
	record = append(record, scriptKey...)

	env.node.AcceptInvoice(paymentHash, ports.HtlcRecords{
		domain.RecordIdAssetTransfer: record,
	})

	require.Eventually(t, func() bool {
		invoice, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
		return err == nil && invoice.IsPaid()
	}, 5*time.Second, 20*time.Millisecond)

	state, ok := env.node.State(paymentHash)
	require.True(t, ok)
	require.Equal(t, ports.InvoiceStateSettled, state)

	balance, err := env.svc.Ledger().Balance(ctx, "wallet-r", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(42), balance.Balance)

	select {
	case notice := <-notices:
		require.Equal(t, "receiver", notice.UserId)
		require.Equal(t, paymentHash, notice.PaymentHash)
		require.Equal(t, domain.TxTypeCredit, notice.TxType)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a settlement notice")
	}
}

func TestWatchInvoiceCanceled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	preimage, paymentHash := newPreimage(t)

	env.node.RegisterInvoice(paymentHash)
	registerInvoice(t, env, paymentHash, preimage, "receiver", "wallet-r", 42)

	env.node.CancelInvoice(paymentHash)

	require.Eventually(t, func() bool {
		invoice, err := env.repo.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
		return err == nil && invoice.Status == domain.InvoiceStatusCancelled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBalanceInvariantAcrossMixedFlows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, hash := newPreimage(t)
		registerInvoice(t, env, hash, "", "alice", "wallet-a", uint64(10*(i+1)))
		_, err := env.svc.Settle(ctx, application.SettleRequest{
			PaymentHash: hash,
			IsInternal:  true,
			Sender: &application.SenderInfo{
				WalletId: "wallet-b",
				UserId:   "bob",
			},
		})
		require.NoError(t, err)
	}

	preimage, hash := newPreimage(t)
	_, err := env.svc.RecordPayment(ctx, application.PaymentParams{
		PaymentHash: hash,
		AssetId:     testAssetId,
		AssetAmount: 25,
		UserId:      "alice",
		WalletId:    "wallet-a",
		Preimage:    preimage,
	})
	require.NoError(t, err)

	requireBalanceInvariant(t, env, "wallet-a")
	requireBalanceInvariant(t, env, "wallet-b")

	aliceBalance, err := env.svc.Ledger().Balance(ctx, "wallet-a", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(10+20+30+40+50-25), aliceBalance.Balance)

	bobBalance, err := env.svc.Ledger().Balance(ctx, "wallet-b", testAssetId)
	require.NoError(t, err)
	require.Equal(t, int64(-(10 + 20 + 30 + 40 + 50)), bobBalance.Balance)
}

func TestPreimageStore(t *testing.T) {
	store := application.NewPreimageStore(cachestore.NewCache(time.Hour))

	_, hash := newPreimage(t)
	_, ok := store.Get(hash)
	require.False(t, ok)

	generated, err := store.GetOrGenerate(hash)
	require.NoError(t, err)
	require.Len(t, generated, 64)

	// Stable across calls.
	again, err := store.GetOrGenerate(hash)
	require.NoError(t, err)
	require.Equal(t, generated, again)

	store.Put(hash, "00ff")
	got, ok := store.Get(hash)
	require.True(t, ok)
	require.Equal(t, "00ff", got)

	require.False(t, store.IsSettled(hash))
	store.MarkSettled(hash)
	require.True(t, store.IsSettled(hash))

	store.MapScriptKey("scriptkey-1", hash)
	mapped, ok := store.PaymentHashForScriptKey("scriptkey-1")
	require.True(t, ok)
	require.Equal(t, hash, mapped)

	_, ok = store.PaymentHashForScriptKey("unknown")
	require.False(t, ok)
}

func TestSettleRequiresPaymentHash(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Settle(context.Background(), application.SettleRequest{})
	require.EqualError(t, err, "missing payment hash")
}

