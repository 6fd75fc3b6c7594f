package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// RunEscrowRelease moves escrowed payments to released once the
// assignment is completed and the check-out is older than the dwell
// window. The dwell exists so a late correction (a dispute, the no-show
// detector) can still intervene before funds move. Selecting only
// in_escrow rows plus the conditional update makes the release
// idempotent: a second run over the same payment is a no-op.
func (e *Engine) RunEscrowRelease(ctx context.Context) RunSummary {
	now := e.Clock.Now()
	cutoff := now.Add(-e.Config.EscrowDwell)

	var due []models.Payment
	err := e.DB.WithContext(ctx).Model(&models.Payment{}).
		Select("payments.*").
		Joins("JOIN assignments ON assignments.id = payments.assignment_id").
		Where("payments.status = ? AND payments.refund_requested = ?", models.PaymentInEscrow, false).
		Where("assignments.status = ? AND assignments.check_out_at <= ?", models.AssignmentCompleted, cutoff).
		Find(&due).Error
	if err != nil {
		slog.Error("escrow release eligibility query failed", "err", err)
		return e.runBatch(ctx, RuleEscrowRelease, 0, nil)
	}

	return e.runBatch(ctx, RuleEscrowRelease, len(due), func(ctx context.Context, i int) error {
		return e.releasePayment(ctx, &due[i], now)
	})
}

func (e *Engine) releasePayment(ctx context.Context, p *models.Payment, now time.Time) error {
	res := e.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, models.PaymentInEscrow).
		Updates(map[string]any{
			"status":             models.PaymentReleased,
			"released_at":        now,
			"last_transition_by": RuleEscrowRelease,
			"last_transition_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("payment %s worker %s: %w", p.ID, p.WorkerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}
	return nil
}

// RunInstantPayout transfers released funds to eligible workers once
// the release is older than the payout dwell. A failed transfer leaves
// the payment released and bumps its failure count; payments past the
// failure cap are excluded and surfaced for manual intervention.
func (e *Engine) RunInstantPayout(ctx context.Context) RunSummary {
	now := e.Clock.Now()
	cutoff := now.Add(-e.Config.PayoutDwell)

	var due []models.Payment
	err := e.DB.WithContext(ctx).
		Where("status = ? AND instant_payout_eligible = ? AND released_at <= ? AND payout_failure_count < ?",
			models.PaymentReleased, true, cutoff, e.Config.MaxPayoutFailures).
		Find(&due).Error
	if err != nil {
		slog.Error("instant payout eligibility query failed", "err", err)
		return e.runBatch(ctx, RuleInstantPayout, 0, nil)
	}

	return e.runBatch(ctx, RuleInstantPayout, len(due), func(ctx context.Context, i int) error {
		return e.payOut(ctx, &due[i], now)
	})
}

func (e *Engine) payOut(ctx context.Context, p *models.Payment, now time.Time) error {
	if err := e.Processor.Payout(ctx, p.ID, p.WorkerCents); err != nil {
		ferr := e.DB.WithContext(ctx).Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, models.PaymentReleased).
			UpdateColumn("payout_failure_count", gorm.Expr("payout_failure_count + 1")).Error
		if ferr != nil {
			slog.Error("payout failure count update failed", "payment_id", p.ID, "err", ferr)
		}
		return fmt.Errorf("payment %s worker %s: payout: %w", p.ID, p.WorkerID, err)
	}

	res := e.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, models.PaymentReleased).
		Updates(map[string]any{
			"status":             models.PaymentPaidOut,
			"paid_out_at":        now,
			"last_transition_by": RuleInstantPayout,
			"last_transition_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("payment %s worker %s: %w", p.ID, p.WorkerID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Funds moved but the row changed under us; loud, needs a human
		slog.Error("payout succeeded but payment left released state", "payment_id", p.ID)
		return errConflict
	}
	return nil
}
