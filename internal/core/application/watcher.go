package application

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
)

// WatchInvoice subscribes to node-side lifecycle events for a registered
// invoice and drives it to settlement. It returns immediately; the watch runs
// until the invoice reaches a terminal state or the service stops.
func (s *service) WatchInvoice(paymentHash, userId, walletId string) {
	if s.node == nil {
		log.Debugf(
			"no node configured, invoice %s relies on direct settlement",
			shortHash(paymentHash),
		)
		return
	}
	go s.watchInvoice(s.watchCtx, paymentHash, userId, walletId)
}

func (s *service) watchInvoice(ctx context.Context, paymentHash, userId, walletId string) {
	updates, errs, err := s.node.SubscribeInvoice(ctx, paymentHash)
	if err != nil {
		log.WithError(err).Warnf(
			"failed to subscribe to invoice %s", shortHash(paymentHash),
		)
		return
	}
	log.Debugf("watching invoice %s", shortHash(paymentHash))

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				log.WithError(err).Warnf(
					"subscription for invoice %s failed", shortHash(paymentHash),
				)
			}
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if done := s.handleInvoiceUpdate(ctx, paymentHash, userId, walletId, update); done {
				return
			}
		}
	}
}

// handleInvoiceUpdate reacts to one subscription event. It reports true when
// the invoice reached a terminal state and the watch should end.
func (s *service) handleInvoiceUpdate(
	ctx context.Context, paymentHash, userId, walletId string, update ports.InvoiceUpdate,
) bool {
	switch update.State {
	case ports.InvoiceStateAccepted:
		log.Debugf("invoice %s accepted, settling", shortHash(paymentHash))
		s.correlateHtlcs(paymentHash, update.Htlcs)

		if _, err := s.Settle(ctx, SettleRequest{
			PaymentHash: paymentHash,
			Node:        s.node,
			UserId:      userId,
			WalletId:    walletId,
		}); err != nil {
			log.WithError(err).Warnf(
				"failed to settle accepted invoice %s", shortHash(paymentHash),
			)
		}
		return false

	case ports.InvoiceStateSettled:
		// The node settled without us revealing the preimage, e.g. after a
		// restart. Converge local state through the same path.
		if !s.preimages.IsSettled(paymentHash) {
			if _, err := s.Settle(ctx, SettleRequest{
				PaymentHash: paymentHash,
				Node:        s.node,
				UserId:      userId,
				WalletId:    walletId,
			}); err != nil {
				log.WithError(err).Warnf(
					"failed to sync settled invoice %s", shortHash(paymentHash),
				)
			}
		}
		return true

	case ports.InvoiceStateCanceled:
		log.Debugf("invoice %s canceled on node", shortHash(paymentHash))
		s.cancelInvoice(ctx, paymentHash)
		return true

	default:
		return false
	}
}

// correlateHtlcs scans accepted HTLCs for asset-transfer records and maps any
// script key found back to the payment hash. Payments carrying no such
// records map the hash to itself so later lookups still resolve.
func (s *service) correlateHtlcs(paymentHash string, htlcs []ports.HtlcRecords) {
	mapped := false
	for _, records := range htlcs {
		for recordId, value := range records {
			info := domain.ExtractTransferInfo(recordId, value)
			if len(info.ScriptKey) > 0 {
				s.preimages.MapScriptKey(info.ScriptKey, paymentHash)
				mapped = true
				log.Debugf(
					"mapped script key %s to invoice %s",
					shortHash(info.ScriptKey), shortHash(paymentHash),
				)
			}
		}
	}
	if !mapped {
		s.preimages.MapScriptKey(paymentHash, paymentHash)
	}
}

func (s *service) cancelInvoice(ctx context.Context, paymentHash string) {
	err := s.repoManager.Gate().WithTransaction(ctx, func(ctx context.Context) error {
		invoice, err := s.repoManager.Invoices().GetInvoiceWithPaymentHash(ctx, paymentHash)
		if err != nil {
			return err
		}
		if err := invoice.MarkCancelled(); err != nil {
			return err
		}
		return s.repoManager.Invoices().UpdateInvoice(ctx, *invoice)
	})
	if err != nil {
		log.WithError(err).Warnf(
			"failed to cancel invoice %s", shortHash(paymentHash),
		)
	}
}
