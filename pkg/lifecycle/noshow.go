package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
	"github.com/shiftpay/lifecycle-api-go/pkg/notify"
)

// RunNoShowDetection marks assignments as no-shows: still assigned with
// no check-in once the scheduled shift start plus the grace period has
// passed. Terminal assignments never enter the eligible set, so a record
// is handled at most once across runs.
func (e *Engine) RunNoShowDetection(ctx context.Context) RunSummary {
	now := e.Clock.Now()

	var candidates []models.Assignment
	err := e.DB.WithContext(ctx).
		Where("status = ? AND check_in_at IS NULL", models.AssignmentAssigned).
		Find(&candidates).Error
	if err != nil {
		slog.Error("no-show eligibility query failed", "err", err)
		return e.runBatch(ctx, RuleNoShow, 0, nil)
	}

	shifts, err := e.shiftsFor(ctx, candidates)
	if err != nil {
		slog.Error("no-show shift lookup failed", "err", err)
		return e.runBatch(ctx, RuleNoShow, 0, nil)
	}

	var due []models.Assignment
	for _, a := range candidates {
		shift, ok := shifts[a.ShiftID]
		if !ok {
			continue
		}
		start, err := ShiftStart(&shift)
		if err != nil {
			slog.Error("unparseable shift schedule", "shift_id", shift.ID, "err", err)
			continue
		}
		if !now.Before(start.Add(e.Config.NoShowGrace)) {
			due = append(due, a)
		}
	}

	return e.runBatch(ctx, RuleNoShow, len(due), func(ctx context.Context, i int) error {
		return e.markNoShow(ctx, &due[i], now)
	})
}

func (e *Engine) markNoShow(ctx context.Context, a *models.Assignment, now time.Time) error {
	res := e.DB.WithContext(ctx).Model(&models.Assignment{}).
		Where("id = ? AND status = ? AND check_in_at IS NULL", a.ID, models.AssignmentAssigned).
		Updates(map[string]any{
			"status":             models.AssignmentNoShow,
			"last_transition_by": RuleNoShow,
			"last_transition_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("assignment %s worker %s: %w", a.ID, a.WorkerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}

	// Side effects are each best effort: one failing must not undo the
	// transition or block the others.

	if derr := e.decrementFilled(ctx, a, now); derr != nil {
		slog.Error("no-show filled count decrement failed", "shift_id", a.ShiftID, "err", derr)
	}

	if nerr := e.Reliability.RecordNoShow(ctx, a.WorkerID); nerr != nil {
		slog.Error("no-show reliability update failed", "worker_id", a.WorkerID, "err", nerr)
	}
	if nerr := e.Notifier.NotifyWorker(ctx, a.WorkerID, a.ID, notify.KindNoShow); nerr != nil {
		slog.Error("no-show notification failed", "worker_id", a.WorkerID, "err", nerr)
	}

	// An escrowed payment for a no-show must come back to the business;
	// flag it and let the refund rules reconcile.
	ferr := e.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("assignment_id = ? AND status = ?", a.ID, models.PaymentInEscrow).
		Updates(map[string]any{
			"refund_requested":   true,
			"last_transition_by": RuleNoShow,
			"last_transition_at": now,
		}).Error
	if ferr != nil {
		slog.Error("no-show refund flag failed", "assignment_id", a.ID, "err", ferr)
	}

	return nil
}

// decrementFilled drops the shift's filled count by one, floored at zero
func (e *Engine) decrementFilled(ctx context.Context, a *models.Assignment, now time.Time) error {
	return e.DB.WithContext(ctx).Model(&models.Shift{}).
		Where("id = ? AND filled_count > 0", a.ShiftID).
		Updates(map[string]any{
			"filled_count":       gorm.Expr("filled_count - 1"),
			"last_transition_by": RuleNoShow,
			"last_transition_at": now,
		}).Error
}
