package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
	"github.com/shiftpay/lifecycle-api-go/pkg/notify"
)

// RunAutoClockOut forces a check-out on every assignment whose worker
// forgot to clock out: still checked_in with no check-out time once the
// scheduled shift end plus the grace period has passed. The worker is
// credited for scheduled hours, so the check-out timestamp is the
// computed shift end, never the detection time.
func (e *Engine) RunAutoClockOut(ctx context.Context) RunSummary {
	now := e.Clock.Now()

	var candidates []models.Assignment
	err := e.DB.WithContext(ctx).
		Where("status = ? AND check_in_at IS NOT NULL AND check_out_at IS NULL", models.AssignmentCheckedIn).
		Find(&candidates).Error
	if err != nil {
		slog.Error("auto clock-out eligibility query failed", "err", err)
		return e.runBatch(ctx, RuleAutoClockOut, 0, nil)
	}

	shifts, err := e.shiftsFor(ctx, candidates)
	if err != nil {
		slog.Error("auto clock-out shift lookup failed", "err", err)
		return e.runBatch(ctx, RuleAutoClockOut, 0, nil)
	}

	// Keep only assignments past shift end + grace
	var due []models.Assignment
	for _, a := range candidates {
		shift, ok := shifts[a.ShiftID]
		if !ok {
			continue
		}
		end, err := ShiftEnd(&shift)
		if err != nil {
			slog.Error("unparseable shift schedule", "shift_id", shift.ID, "err", err)
			continue
		}
		if !now.Before(end.Add(e.Config.ClockOutGrace)) {
			due = append(due, a)
		}
	}

	return e.runBatch(ctx, RuleAutoClockOut, len(due), func(ctx context.Context, i int) error {
		a := due[i]
		shift := shifts[a.ShiftID]
		return e.autoClockOut(ctx, &a, &shift, now)
	})
}

func (e *Engine) autoClockOut(ctx context.Context, a *models.Assignment, shift *models.Shift, now time.Time) error {
	end, err := ShiftEnd(shift)
	if err != nil {
		return fmt.Errorf("assignment %s worker %s: %w", a.ID, a.WorkerID, err)
	}

	gross := end.Sub(*a.CheckInAt).Hours()
	if gross < 0 {
		gross = 0
	}
	net := gross - float64(a.BreakMinutes)/60
	if net < 0 {
		net = 0
	}

	res := e.DB.WithContext(ctx).Model(&models.Assignment{}).
		Where("id = ? AND status = ? AND check_out_at IS NULL", a.ID, models.AssignmentCheckedIn).
		Updates(map[string]any{
			"status":             models.AssignmentCompleted,
			"check_out_at":       end,
			"gross_hours":        gross,
			"net_hours":          net,
			"auto_clocked_out":   true,
			"last_transition_by": RuleAutoClockOut,
			"last_transition_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("assignment %s worker %s: %w", a.ID, a.WorkerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}

	if err := e.Notifier.NotifyWorker(ctx, a.WorkerID, a.ID, notify.KindAutoClockOut); err != nil {
		slog.Error("auto clock-out notification failed", "assignment_id", a.ID, "worker_id", a.WorkerID, "err", err)
	}

	e.maybeCompleteShift(ctx, a.ShiftID, now)
	return nil
}

// maybeCompleteShift advances an in-progress shift to completed once no
// assignment remains in a non-terminal state. Best effort.
func (e *Engine) maybeCompleteShift(ctx context.Context, shiftID uuid.UUID, now time.Time) {
	var open int64
	err := e.DB.WithContext(ctx).Model(&models.Assignment{}).
		Where("shift_id = ? AND status IN ?", shiftID,
			[]models.AssignmentStatus{models.AssignmentAssigned, models.AssignmentCheckedIn}).
		Count(&open).Error
	if err != nil {
		slog.Error("shift completion count failed", "shift_id", shiftID, "err", err)
		return
	}
	if open > 0 {
		return
	}
	e.DB.WithContext(ctx).Model(&models.Shift{}).
		Where("id = ? AND status = ?", shiftID, models.ShiftInProgress).
		Updates(map[string]any{
			"status":             models.ShiftCompleted,
			"last_transition_by": RuleAutoClockOut,
			"last_transition_at": now,
		})
}

// shiftsFor loads the shifts behind a set of assignments
func (e *Engine) shiftsFor(ctx context.Context, assignments []models.Assignment) (map[uuid.UUID]models.Shift, error) {
	out := make(map[uuid.UUID]models.Shift, len(assignments))
	if len(assignments) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(assignments))
	seen := make(map[uuid.UUID]bool, len(assignments))
	for _, a := range assignments {
		if !seen[a.ShiftID] {
			seen[a.ShiftID] = true
			ids = append(ids, a.ShiftID)
		}
	}
	var shifts []models.Shift
	if err := e.DB.WithContext(ctx).Where("id IN ?", ids).Find(&shifts).Error; err != nil {
		return nil, err
	}
	for _, s := range shifts {
		out[s.ID] = s
	}
	return out, nil
}
