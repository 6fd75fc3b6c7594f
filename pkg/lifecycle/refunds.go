package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// Refund reasons recorded on created refunds
const (
	ReasonShiftCancelled = "shift_cancelled"
	ReasonWorkerNoShow   = "worker_no_show"
)

// RunRefundDetection creates pending refunds for escrowed payments that
// must come back to the business: shifts cancelled with at least the
// cutoff lead time before their start, and payments flagged by the
// no-show detector. Late cancellations are deliberately excluded; they
// go through manual dispute handling. The unique index on
// (payment_id, active) is the real duplicate guard, so a racing second
// create fails at the store and is treated as already handled.
func (e *Engine) RunRefundDetection(ctx context.Context) RunSummary {
	now := e.Clock.Now()

	type item struct {
		payment models.Payment
		reason  string
	}
	var work []item

	var cancelled []models.Shift
	err := e.DB.WithContext(ctx).
		Where("status = ? AND cancelled_at IS NOT NULL", models.ShiftCancelled).
		Find(&cancelled).Error
	if err != nil {
		slog.Error("refund detection shift query failed", "err", err)
		return e.runBatch(ctx, RuleRefundDetection, 0, nil)
	}

	for _, s := range cancelled {
		start, err := ShiftStart(&s)
		if err != nil {
			slog.Error("unparseable shift schedule", "shift_id", s.ID, "err", err)
			continue
		}
		if start.Sub(*s.CancelledAt) < e.Config.RefundCutoff {
			continue
		}
		var payments []models.Payment
		err = e.DB.WithContext(ctx).
			Where("shift_id = ? AND status = ?", s.ID, models.PaymentInEscrow).
			Find(&payments).Error
		if err != nil {
			slog.Error("refund detection payment query failed", "shift_id", s.ID, "err", err)
			continue
		}
		for _, p := range payments {
			work = append(work, item{payment: p, reason: ReasonShiftCancelled})
		}
	}

	var flagged []models.Payment
	err = e.DB.WithContext(ctx).
		Where("refund_requested = ? AND status = ?", true, models.PaymentInEscrow).
		Find(&flagged).Error
	if err != nil {
		slog.Error("refund detection flagged payment query failed", "err", err)
	} else {
		seen := make(map[string]bool, len(work))
		for _, it := range work {
			seen[it.payment.ID.String()] = true
		}
		for _, p := range flagged {
			if !seen[p.ID.String()] {
				work = append(work, item{payment: p, reason: ReasonWorkerNoShow})
			}
		}
	}

	return e.runBatch(ctx, RuleRefundDetection, len(work), func(ctx context.Context, i int) error {
		return e.createRefund(ctx, &work[i].payment, work[i].reason, now)
	})
}

func (e *Engine) createRefund(ctx context.Context, p *models.Payment, reason string, now time.Time) error {
	var existing int64
	err := e.DB.WithContext(ctx).Model(&models.Refund{}).
		Where("payment_id = ? AND active = ?", p.ID, true).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("payment %s: refund lookup: %w", p.ID, err)
	}
	if existing > 0 {
		return errConflict
	}

	active := true
	refund := models.Refund{
		PaymentID:        p.ID,
		Active:           &active,
		AmountCents:      p.GrossCents,
		Reason:           reason,
		Status:           models.RefundPending,
		InitiatedAt:      now,
		NextAttemptAt:    &now,
		LastTransitionBy: RuleRefundDetection,
		LastTransitionAt: &now,
	}
	if err := e.DB.WithContext(ctx).Create(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race to another run; the store kept us honest
			return errConflict
		}
		return fmt.Errorf("payment %s: refund create: %w", p.ID, err)
	}
	return nil
}

// RunRefundProcessing attempts the transfer for every due refund.
// Transient failures retry with exponential backoff up to the attempt
// cap; after that the refund is failed terminally and left for manual
// reconciliation, never silently dropped.
func (e *Engine) RunRefundProcessing(ctx context.Context) RunSummary {
	now := e.Clock.Now()

	var due []models.Refund
	err := e.DB.WithContext(ctx).
		Where("status IN ? AND attempts < ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			[]models.RefundStatus{models.RefundPending, models.RefundProcessing},
			e.Config.MaxRefundAttempts, now).
		Find(&due).Error
	if err != nil {
		slog.Error("refund processing eligibility query failed", "err", err)
		return e.runBatch(ctx, RuleRefundProcessing, 0, nil)
	}

	return e.runBatch(ctx, RuleRefundProcessing, len(due), func(ctx context.Context, i int) error {
		return e.processRefund(ctx, &due[i], now)
	})
}

func (e *Engine) processRefund(ctx context.Context, r *models.Refund, now time.Time) error {
	attempt := r.Attempts + 1
	next := now.Add(e.refundBackoff(attempt))

	// Claim the attempt; the attempts guard keeps a racing run off this row
	res := e.DB.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ? AND attempts = ? AND status IN ?", r.ID, r.Attempts,
			[]models.RefundStatus{models.RefundPending, models.RefundProcessing}).
		Updates(map[string]any{
			"status":             models.RefundProcessing,
			"attempts":           attempt,
			"next_attempt_at":    next,
			"last_transition_by": RuleRefundProcessing,
			"last_transition_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("refund %s payment %s: %w", r.ID, r.PaymentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}

	if err := e.Processor.Refund(ctx, r.PaymentID, r.ID, r.AmountCents); err != nil {
		uerr := e.DB.WithContext(ctx).Model(&models.Refund{}).
			Where("id = ?", r.ID).
			Update("last_error", err.Error()).Error
		if uerr != nil {
			slog.Error("refund error record failed", "refund_id", r.ID, "err", uerr)
		}
		if attempt >= e.Config.MaxRefundAttempts {
			e.failRefund(ctx, r, now)
		}
		return fmt.Errorf("refund %s payment %s: attempt %d: %w", r.ID, r.PaymentID, attempt, err)
	}

	uerr := e.DB.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ? AND status = ?", r.ID, models.RefundProcessing).
		Updates(map[string]any{
			"status":             models.RefundCompleted,
			"processed_at":       now,
			"last_transition_by": RuleRefundProcessing,
			"last_transition_at": now,
		}).Error
	if uerr != nil {
		return fmt.Errorf("refund %s payment %s: %w", r.ID, r.PaymentID, uerr)
	}

	// The money is back with the business; the payment must never
	// release after this point.
	perr := e.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", r.PaymentID, models.PaymentInEscrow).
		Updates(map[string]any{
			"status":             models.PaymentRefunded,
			"last_transition_by": RuleRefundProcessing,
			"last_transition_at": now,
		}).Error
	if perr != nil {
		slog.Error("payment refunded transition failed", "payment_id", r.PaymentID, "err", perr)
	}
	return nil
}

// failRefund marks a refund terminally failed and frees the active slot
// so a manually initiated refund can still be created later
func (e *Engine) failRefund(ctx context.Context, r *models.Refund, now time.Time) {
	err := e.DB.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"status":             models.RefundFailed,
			"active":             nil,
			"processed_at":       now,
			"last_transition_by": RuleRefundProcessing,
			"last_transition_at": now,
		}).Error
	if err != nil {
		slog.Error("refund terminal failure update failed", "refund_id", r.ID, "err", err)
	} else {
		slog.Error("refund failed terminally, needs manual reconciliation",
			"refund_id", r.ID, "payment_id", r.PaymentID, "attempts", r.Attempts+1)
	}
}

// refundBackoff doubles the wait per attempt: base, 2x, 4x, ...
func (e *Engine) refundBackoff(attempt int) time.Duration {
	d := e.Config.RefundBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
