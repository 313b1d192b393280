package escrow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
)

// finalize releases total_amount from the holder to the seller once every
// condition is doubly confirmed, then seals the agreement. It runs inside the
// condition-check transaction, so a failed release discards the confirmation
// that triggered it.
func (s *Service) finalize(ctx context.Context, tx pgx.Tx, rec *Agreement, caller AccountID) error {
	if !rec.AllConfirmed() {
		return nil
	}

	transfer, err := s.ledger.Transfer(ctx, tx, ledger.TransferParams{
		From:      string(s.holder),
		To:        string(rec.Seller),
		Amount:    rec.TotalAmount,
		Reference: fmt.Sprintf("escrow:%d:release", rec.ID),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "escrow release failed",
			"agreement_id", rec.ID,
			"seller", rec.Seller,
			"amount", rec.TotalAmount,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrCanNotTransfer, err)
	}

	if err := transition(rec, StatusFinalized); err != nil {
		return err
	}
	updated, err := s.repo.Update(ctx, tx, *rec)
	if err != nil {
		return err
	}
	*rec = updated

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventAgreementFinalized, caller, map[string]any{
		"seller":      rec.Seller,
		"amount":      rec.TotalAmount,
		"transfer_id": transfer.ID,
	}); err != nil {
		return err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicFinalized, map[string]any{
		"agreement_id": rec.ID,
		"seller":       rec.Seller,
		"amount":       rec.TotalAmount,
		"transfer_id":  transfer.ID,
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "escrow finalized",
		"agreement_id", rec.ID,
		"seller", rec.Seller,
		"amount", rec.TotalAmount,
	)
	return nil
}
