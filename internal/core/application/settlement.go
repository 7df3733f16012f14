package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
)

// SenderInfo identifies the paying side of an internal transfer.
type SenderInfo struct {
	WalletId string
	UserId   string
	AssetId  string
}

// SettleRequest asks the coordinator to finalize one payment. Node may be nil
// for internal settlements; when nil the service's own node reference is used.
type SettleRequest struct {
	PaymentHash   string
	Node          ports.NodeClient
	IsInternal    bool
	IsSelfPayment bool
	UserId        string
	WalletId      string
	Sender        *SenderInfo
}

// SettleResult reports how a payment was finalized.
type SettleResult struct {
	PaymentHash      string
	Preimage         string
	AlreadySettled   bool
	Internal         bool
	SelfPayment      bool
	LightningSettled bool
	UpdatedInvoice   *domain.Invoice
}

// PaymentParams describes an outbound transfer to settle and record.
type PaymentParams struct {
	PaymentHash    string
	PaymentRequest string
	AssetId        string
	AssetAmount    uint64
	FeeSats        uint64
	UserId         string
	WalletId       string
	Node           ports.NodeClient
	IsInternal     bool
	IsSelfPayment  bool
	Description    string
	Preimage       string
	Sender         *SenderInfo
}

// InvoiceParams describes a transfer request to register and watch.
type InvoiceParams struct {
	PaymentHash    string
	PaymentRequest string
	AssetId        string
	AssetAmount    uint64
	SatoshiAmount  uint64
	UserId         string
	WalletId       string
	Description    string
	Expiry         time.Duration
	Preimage       string
}

// Service is the settlement engine. Settle is the single authority for "has
// this payment been finalized": idempotent under concurrent and duplicate
// triggers, every other component routes through it instead of mutating
// ledger or invoice state directly.
type Service interface {
	Start() error
	Stop()
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
	ProcessPaymentSettlement(ctx context.Context, params PaymentParams) (*SettleResult, error)
	RecordPayment(ctx context.Context, params PaymentParams) (*domain.Payment, error)
	RegisterInvoice(ctx context.Context, params InvoiceParams) (*domain.Invoice, error)
	ValidateForSettlement(ctx context.Context, paymentHash string) (*domain.Invoice, error)
	IsInternalPayment(ctx context.Context, paymentHash string) (bool, error)
	IsSelfPayment(ctx context.Context, paymentHash, userId string) (bool, error)
	WatchInvoice(paymentHash, userId, walletId string)
	ExpirePendingInvoices(ctx context.Context) (int, error)
	Ledger() *Ledger
}

type service struct {
	repoManager ports.RepoManager
	preimages   *PreimageStore
	ledger      *Ledger
	node        ports.NodeClient
	notifier    ports.Notifier
	scheduler   ports.SchedulerService
	strategies  map[paymentKind]settlementStrategy

	expiryInterval int64
	watchCancel    context.CancelFunc
	watchCtx       context.Context
}

func NewService(
	repoManager ports.RepoManager, cache ports.Cache, node ports.NodeClient,
	notifier ports.Notifier, scheduler ports.SchedulerService, expiryInterval int64,
) Service {
	ledger := NewLedger(repoManager)
	preimages := NewPreimageStore(cache)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &service{
		repoManager: repoManager,
		preimages:   preimages,
		ledger:      ledger,
		node:        node,
		notifier:    notifier,
		scheduler:   scheduler,
		strategies: map[paymentKind]settlementStrategy{
			paymentKindInternal:           &internalStrategy{repoManager, ledger},
			paymentKindInternalWithSender: &internalWithSenderStrategy{repoManager, ledger},
			paymentKindLightning:          &lightningStrategy{repoManager},
		},
		expiryInterval: expiryInterval,
		watchCtx:       watchCtx,
		watchCancel:    watchCancel,
	}
}

func (s *service) Start() error {
	log.Debug("starting settlement service")
	if s.scheduler != nil && s.expiryInterval > 0 {
		if err := s.scheduler.ScheduleTask(s.expiryInterval, false, s.expiryTask); err != nil {
			return fmt.Errorf("failed to schedule invoice expiry task: %s", err)
		}
		s.scheduler.Start()
	}
	return nil
}

func (s *service) Stop() {
	s.watchCancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.node != nil {
		s.node.Close()
		log.Debug("closed connection to node")
	}
	s.repoManager.Close()
	log.Debug("closed connection to db")
}

func (s *service) Ledger() *Ledger {
	return s.ledger
}

// Settle finalizes one payment exactly once. Duplicate and concurrent
// triggers short-circuit on the settlement marker or, failing that, on the
// store's own paid status; the store check always runs on a marker miss.
func (s *service) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if len(req.PaymentHash) <= 0 {
		return nil, fmt.Errorf("missing payment hash")
	}

	if s.preimages.IsSettled(req.PaymentHash) {
		log.Debugf("invoice %s already marked as settled, skipping", shortHash(req.PaymentHash))
		return &SettleResult{PaymentHash: req.PaymentHash, AlreadySettled: true}, nil
	}

	invoice, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, req.PaymentHash)
	if err != nil && !errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil, err
	}
	if invoice != nil && invoice.IsPaid() {
		s.preimages.MarkSettled(req.PaymentHash)
		log.Debugf("invoice %s already paid in database, skipping", shortHash(req.PaymentHash))
		return &SettleResult{PaymentHash: req.PaymentHash, AlreadySettled: true}, nil
	}

	preimageHex, err := s.preimages.GetOrGenerate(req.PaymentHash)
	if err != nil {
		return nil, ErrNoPreimage
	}

	kind := classifyPayment(req.IsInternal, req.Sender)
	strategy := s.strategies[kind]

	node := req.Node
	if node == nil {
		node = s.node
	}
	result, err := strategy.execute(ctx, req.PaymentHash, invoice, preimageHex, settlementContext{
		node:          node,
		isSelfPayment: req.IsSelfPayment,
		userId:        req.UserId,
		walletId:      req.WalletId,
		sender:        req.Sender,
	})
	if err != nil {
		// A concurrent settlement won the race inside the store transaction.
		if errors.Is(err, domain.ErrAlreadyPaid) {
			s.preimages.MarkSettled(req.PaymentHash)
			return &SettleResult{PaymentHash: req.PaymentHash, AlreadySettled: true}, nil
		}
		log.WithError(err).Warnf(
			"failed to settle invoice %s (%s)", shortHash(req.PaymentHash), kind,
		)
		return nil, err
	}

	s.preimages.MarkSettled(req.PaymentHash)

	// Network-routed settlements credit the receiving wallet here; the
	// internal strategies have already balanced both sides.
	if kind == paymentKindLightning && invoice != nil {
		err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
			_, _, err := s.ledger.RecordTransaction(ctx, RecordParams{
				WalletId:       invoice.WalletId,
				AssetId:        invoice.AssetId,
				Amount:         invoice.AssetAmount,
				TxType:         domain.TxTypeCredit,
				PaymentHash:    req.PaymentHash,
				Description:    invoice.Description,
				CreateTxRecord: true,
			})
			return err
		})
		if err != nil {
			log.WithError(err).Warnf(
				"failed to credit ledger for invoice %s", invoice.Id,
			)
		}
	}

	if invoice != nil {
		s.notifySettled(ctx, invoice, result.UpdatedInvoice)
	}

	log.Debugf("invoice %s settled (%s)", shortHash(req.PaymentHash), kind)
	return result, nil
}

// ProcessPaymentSettlement converges the outbound payment path on the same
// idempotent settlement entry point: internal payments settle the local
// invoice first, then the payment itself is recorded.
func (s *service) ProcessPaymentSettlement(
	ctx context.Context, params PaymentParams,
) (*SettleResult, error) {
	result := &SettleResult{
		PaymentHash: params.PaymentHash,
		Preimage:    params.Preimage,
		Internal:    params.IsInternal,
		SelfPayment: params.IsSelfPayment,
	}

	if params.IsInternal {
		settleResult, err := s.Settle(ctx, SettleRequest{
			PaymentHash:   params.PaymentHash,
			Node:          params.Node,
			IsInternal:    true,
			IsSelfPayment: params.IsSelfPayment,
			UserId:        params.UserId,
			WalletId:      params.WalletId,
			Sender:        params.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to settle invoice: %s", err)
		}
		result.AlreadySettled = settleResult.AlreadySettled
		result.UpdatedInvoice = settleResult.UpdatedInvoice
		if len(params.Preimage) <= 0 {
			params.Preimage = settleResult.Preimage
			result.Preimage = settleResult.Preimage
		}
	}

	if _, err := s.RecordPayment(ctx, params); err != nil {
		log.WithError(err).Warn("payment settled but failed to record in database")
	}
	return result, nil
}

// RecordPayment persists the outbound payment record and, for payments that
// left the node, the sender-side debit. Already-processed hashes are skipped
// via the settlement marker; internal ones still get their record row since
// the ledger was balanced during settlement.
func (s *service) RecordPayment(
	ctx context.Context, params PaymentParams,
) (*domain.Payment, error) {
	payment, err := domain.NewPayment(
		params.PaymentHash, params.PaymentRequest, params.AssetId,
		params.AssetAmount, params.FeeSats, params.UserId, params.WalletId,
		params.Description, params.Preimage,
	)
	if err != nil {
		return nil, err
	}

	if s.preimages.IsSettled(params.PaymentHash) {
		if !params.IsInternal {
			log.Debugf(
				"payment %s already processed, skipping record creation",
				shortHash(params.PaymentHash),
			)
			return nil, nil
		}
		// Internal payments were fully balanced in Settle; the record row is
		// still wanted for history and notifications.
		if err := s.repoManager.Payments().AddPayment(ctx, *payment); err != nil {
			return nil, fmt.Errorf("failed to create payment record: %s", err)
		}
		s.notifyPayment(ctx, params)
		return payment, nil
	}

	err = s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
		invoice, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, params.PaymentHash)
		if err != nil && !errors.Is(err, domain.ErrInvoiceNotFound) {
			return err
		}
		if invoice != nil && invoice.IsPaid() {
			log.Debugf(
				"invoice for payment %s is already paid, skipping payment record",
				shortHash(params.PaymentHash),
			)
			payment = nil
			return nil
		}
		if err := s.repoManager.Payments().AddPayment(ctx, *payment); err != nil {
			return fmt.Errorf("failed to create payment record: %s", err)
		}
		if !params.IsInternal {
			_, _, err = s.ledger.RecordTransaction(ctx, RecordParams{
				WalletId:       params.WalletId,
				AssetId:        params.AssetId,
				Amount:         params.AssetAmount,
				TxType:         domain.TxTypeDebit,
				PaymentHash:    params.PaymentHash,
				Fee:            params.FeeSats,
				Description:    params.Description,
				CreateTxRecord: true,
			})
			return err
		}
		return nil
	}, ports.WithMaxRetries(5))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, nil
	}

	s.preimages.MarkSettled(params.PaymentHash)
	s.notifyPayment(ctx, params)
	return payment, nil
}

// RegisterInvoice stores a fresh pending invoice and starts watching its
// lifecycle on the node.
func (s *service) RegisterInvoice(
	ctx context.Context, params InvoiceParams,
) (*domain.Invoice, error) {
	invoice, err := domain.NewInvoice(
		params.PaymentHash, params.PaymentRequest, params.AssetId,
		params.AssetAmount, params.SatoshiAmount, params.UserId,
		params.WalletId, params.Description, params.Expiry,
	)
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.Invoices().AddInvoice(ctx, *invoice); err != nil {
		return nil, fmt.Errorf("failed to store invoice: %s", err)
	}
	if len(params.Preimage) > 0 {
		s.preimages.Put(params.PaymentHash, params.Preimage)
	}

	s.WatchInvoice(params.PaymentHash, params.UserId, params.WalletId)
	return invoice, nil
}

// ValidateForSettlement checks an invoice before the payment-send path runs:
// it must exist, be unpaid and unexpired.
func (s *service) ValidateForSettlement(
	ctx context.Context, paymentHash string,
) (*domain.Invoice, error) {
	invoice, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if invoice.IsPaid() {
		return invoice, domain.ErrAlreadyPaid
	}
	if invoice.IsExpired(time.Now()) {
		return invoice, domain.ErrInvoiceExpired
	}
	return invoice, nil
}

// IsInternalPayment reports whether the payment hash belongs to an invoice
// created on this node, meaning it can settle without the network.
func (s *service) IsInternalPayment(ctx context.Context, paymentHash string) (bool, error) {
	_, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsSelfPayment reports whether the invoice behind the hash was created by
// the same user who is paying it.
func (s *service) IsSelfPayment(ctx context.Context, paymentHash, userId string) (bool, error) {
	invoice, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			return false, nil
		}
		return false, err
	}
	return invoice.UserId == userId, nil
}

// ExpirePendingInvoices flips pending invoices past their expiry to expired.
func (s *service) ExpirePendingInvoices(ctx context.Context) (int, error) {
	invoices, err := s.repoManager.Invoices().GetExpirableInvoices(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range invoices {
		invoice := invoices[i]
		err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
			fresh, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, invoice.PaymentHash)
			if err != nil {
				return err
			}
			if err := fresh.MarkExpired(); err != nil {
				return err
			}
			return s.repoManager.Invoices().UpdateInvoice(ctx, *fresh)
		})
		if err != nil {
			log.WithError(err).Warnf("failed to expire invoice %s", invoice.Id)
			continue
		}
		count++
	}
	return count, nil
}

func (s *service) expiryTask() {
	count, err := s.ExpirePendingInvoices(context.Background())
	if err != nil {
		log.WithError(err).Warn("invoice expiry sweep failed")
		return
	}
	if count > 0 {
		log.Debugf("expired %d pending invoices", count)
	}
}

// notifySettled pushes a best-effort settlement notice; failures are logged
// and never propagate into the settlement outcome.
func (s *service) notifySettled(
	ctx context.Context, invoice *domain.Invoice, updated *domain.Invoice,
) {
	if s.notifier == nil || len(invoice.UserId) <= 0 {
		return
	}
	var paidAt *time.Time
	if updated != nil {
		paidAt = updated.PaidAt
	}
	notice := ports.SettlementNotice{
		UserId:      invoice.UserId,
		PaymentHash: invoice.PaymentHash,
		Status:      domain.InvoiceStatusPaid,
		AssetId:     invoice.AssetId,
		AssetAmount: invoice.AssetAmount,
		TxType:      domain.TxTypeCredit,
		PaidAt:      paidAt,
	}
	if err := s.notifier.NotifySettlement(ctx, notice); err != nil {
		log.WithError(err).Warn("failed to send settlement notification")
	}
}

func (s *service) notifyPayment(ctx context.Context, params PaymentParams) {
	if s.notifier == nil || len(params.UserId) <= 0 {
		return
	}
	notice := ports.SettlementNotice{
		UserId:      params.UserId,
		PaymentHash: params.PaymentHash,
		Status:      domain.PaymentStatusCompleted,
		AssetId:     params.AssetId,
		AssetAmount: params.AssetAmount,
		TxType:      domain.TxTypeDebit,
	}
	if err := s.notifier.NotifySettlement(ctx, notice); err != nil {
		log.WithError(err).Warn("payment recorded but notification failed")
	}
}
