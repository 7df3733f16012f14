package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
)

// paymentKind is the closed set of settlement categories. Strategies are
// looked up through a dispatch table keyed by kind.
type paymentKind int

const (
	paymentKindLightning paymentKind = iota
	paymentKindInternal
	paymentKindInternalWithSender
)

func (k paymentKind) String() string {
	switch k {
	case paymentKindInternal:
		return "internal"
	case paymentKindInternalWithSender:
		return "internal_with_sender"
	default:
		return "lightning"
	}
}

func classifyPayment(isInternal bool, sender *SenderInfo) paymentKind {
	if !isInternal {
		return paymentKindLightning
	}
	if sender != nil {
		return paymentKindInternalWithSender
	}
	return paymentKindInternal
}

// settlementContext carries the per-call collaborators and flags a strategy
// may need.
type settlementContext struct {
	node          ports.NodeClient
	isSelfPayment bool
	userId        string
	walletId      string
	sender        *SenderInfo
}

type settlementStrategy interface {
	execute(
		ctx context.Context, paymentHash string, invoice *domain.Invoice,
		preimageHex string, sctx settlementContext,
	) (*SettleResult, error)
}

// markInvoicePaid re-reads the invoice inside the current transaction and
// flips it to paid, so concurrent settlements race on the store rather than
// on a stale in-memory copy.
func markInvoicePaid(
	ctx context.Context, repoManager ports.RepoManager, paymentHash string,
) (*domain.Invoice, error) {
	invoice, err := repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	if err := invoice.MarkPaid(); err != nil {
		return nil, err
	}
	if err := repoManager.Invoices().UpdateInvoice(ctx, *invoice); err != nil {
		return nil, fmt.Errorf("failed to update invoice status: %s", err)
	}
	return invoice, nil
}

// internalStrategy settles a payment between wallets on this node without
// sender bookkeeping: the invoice flips to paid and the receiving wallet is
// credited, both inside one store transaction.
type internalStrategy struct {
	repoManager ports.RepoManager
	ledger      *Ledger
}

func (s *internalStrategy) execute(
	ctx context.Context, paymentHash string, invoice *domain.Invoice,
	preimageHex string, sctx settlementContext,
) (*SettleResult, error) {
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}

	var updated *domain.Invoice
	err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = markInvoicePaid(ctx, s.repoManager, paymentHash)
		if err != nil {
			return err
		}
		_, _, err = s.ledger.RecordTransaction(ctx, RecordParams{
			WalletId:       invoice.WalletId,
			AssetId:        invoice.AssetId,
			Amount:         invoice.AssetAmount,
			TxType:         domain.TxTypeCredit,
			PaymentHash:    paymentHash,
			Description:    invoice.Description,
			CreateTxRecord: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debugf(
		"invoice %s settled internally (self payment: %t)", invoice.Id, sctx.isSelfPayment,
	)
	return &SettleResult{
		PaymentHash:    paymentHash,
		Preimage:       preimageHex,
		Internal:       true,
		SelfPayment:    sctx.isSelfPayment,
		UpdatedInvoice: updated,
	}, nil
}

// internalWithSenderStrategy additionally debits the sending wallet within
// the same transaction; credit and debit land together or not at all.
type internalWithSenderStrategy struct {
	repoManager ports.RepoManager
	ledger      *Ledger
}

func (s *internalWithSenderStrategy) execute(
	ctx context.Context, paymentHash string, invoice *domain.Invoice,
	preimageHex string, sctx settlementContext,
) (*SettleResult, error) {
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	sender := sctx.sender
	if sender == nil || len(sender.WalletId) <= 0 || len(sender.UserId) <= 0 {
		log.Warnf("missing sender information for payment %s", shortHash(paymentHash))
		return nil, ErrIncompleteContext
	}

	// Prefer the asset id the sending client declared, fall back to the
	// invoice's.
	debitAssetId := sender.AssetId
	if len(debitAssetId) <= 0 {
		debitAssetId = invoice.AssetId
	}

	var updated *domain.Invoice
	err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = markInvoicePaid(ctx, s.repoManager, paymentHash)
		if err != nil {
			return err
		}
		if _, _, err = s.ledger.RecordTransaction(ctx, RecordParams{
			WalletId:       invoice.WalletId,
			AssetId:        invoice.AssetId,
			Amount:         invoice.AssetAmount,
			TxType:         domain.TxTypeCredit,
			PaymentHash:    paymentHash,
			Description:    invoice.Description,
			CreateTxRecord: true,
		}); err != nil {
			return err
		}
		_, _, err = s.ledger.RecordTransaction(ctx, RecordParams{
			WalletId:       sender.WalletId,
			AssetId:        debitAssetId,
			Amount:         invoice.AssetAmount,
			TxType:         domain.TxTypeDebit,
			PaymentHash:    paymentHash,
			Description:    invoice.Description,
			CreateTxRecord: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debugf(
		"invoice %s settled internally with sender %s, amount %d",
		invoice.Id, sender.WalletId, invoice.AssetAmount,
	)
	return &SettleResult{
		PaymentHash:    paymentHash,
		Preimage:       preimageHex,
		Internal:       true,
		SelfPayment:    sctx.isSelfPayment,
		UpdatedInvoice: updated,
	}, nil
}

// lightningStrategy finalizes a network-routed payment by revealing the
// preimage to the node. The ledger credit for this category is applied by the
// coordinator after the strategy returns, the cryptographic settlement and
// the bookkeeping are separate concerns.
type lightningStrategy struct {
	repoManager ports.RepoManager
}

func (s *lightningStrategy) execute(
	ctx context.Context, paymentHash string, invoice *domain.Invoice,
	preimageHex string, sctx settlementContext,
) (*SettleResult, error) {
	if sctx.node == nil {
		return nil, ErrNodeRequired
	}

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return nil, fmt.Errorf("invalid preimage: %s", err)
	}

	if err := sctx.node.SettleInvoice(ctx, preimage); err != nil {
		if !isAlreadySettled(err) {
			return nil, fmt.Errorf("failed to settle invoice: %s", nodeErrorMessage(err))
		}
		log.Debugf("invoice %s was already settled on the node", shortHash(paymentHash))
	}

	var updated *domain.Invoice
	if invoice != nil {
		err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			updated, err = markInvoicePaid(ctx, s.repoManager, paymentHash)
			return err
		})
		if err != nil && !errors.Is(err, domain.ErrAlreadyPaid) {
			// The Lightning settlement itself succeeded, a failed status
			// update must not unwind it.
			log.WithError(err).Warnf(
				"failed to update invoice %s status after lightning settlement", invoice.Id,
			)
		}
	}

	return &SettleResult{
		PaymentHash:      paymentHash,
		Preimage:         preimageHex,
		LightningSettled: true,
		UpdatedInvoice:   updated,
	}, nil
}
