package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
	"github.com/shiftpay/lifecycle-api-go/pkg/notify"
)

// Workers on break-mandatory shifts must have their break underway by
// the fifth hour; the reminder goes out half an hour before that.
const (
	breakRequiredByHours  = 5.0
	breakReminderLeadHour = 0.5
)

// BreakCheck is the outcome of the deterministic compliance function
type BreakCheck struct {
	Compliant     bool
	NeedsReminder bool
	RequiresBreak bool
}

// RequiredBreakMinutes returns the mandated break for a shift of the
// given scheduled length
func RequiredBreakMinutes(shiftHours float64) int {
	switch {
	case shiftHours >= 10:
		return 60
	case shiftHours >= 6:
		return 30
	default:
		return 0
	}
}

// EvaluateBreak decides, from hours worked so far and break minutes
// taken, whether a worker is compliant, due a reminder, or past the
// point where a break is required
func EvaluateBreak(hoursWorked float64, breakMinutes, requiredMinutes int) BreakCheck {
	check := BreakCheck{Compliant: true}
	if requiredMinutes == 0 || breakMinutes >= requiredMinutes {
		return check
	}
	if hoursWorked >= breakRequiredByHours {
		check.Compliant = false
		check.RequiresBreak = true
		return check
	}
	if hoursWorked >= breakRequiredByHours-breakReminderLeadHour && breakMinutes == 0 {
		check.NeedsReminder = true
	}
	return check
}

// RunBreakCompliance checks every checked-in worker on an in-progress
// break-mandatory shift, sending at most one reminder per assignment
// and stamping a break-required-by time once the threshold is crossed
func (e *Engine) RunBreakCompliance(ctx context.Context) RunSummary {
	now := e.Clock.Now()

	// Today's shifts plus yesterday's, to cover overnight shifts still
	// running past midnight.
	since := now.AddDate(0, 0, -1).Truncate(24 * time.Hour)
	var shifts []models.Shift
	err := e.DB.WithContext(ctx).
		Where("status = ? AND date >= ?", models.ShiftInProgress, since).
		Find(&shifts).Error
	if err != nil {
		slog.Error("break compliance shift query failed", "err", err)
		return e.runBatch(ctx, RuleBreakCompliance, 0, nil)
	}

	type item struct {
		assignment models.Assignment
		shift      models.Shift
		required   int
	}
	var work []item
	for _, s := range shifts {
		dur, err := ShiftDuration(&s)
		if err != nil {
			slog.Error("unparseable shift schedule", "shift_id", s.ID, "err", err)
			continue
		}
		if dur < e.Config.BreakThreshold {
			continue
		}
		required := RequiredBreakMinutes(dur.Hours())

		var roster []models.Assignment
		err = e.DB.WithContext(ctx).
			Where("shift_id = ? AND status = ? AND check_in_at IS NOT NULL", s.ID, models.AssignmentCheckedIn).
			Find(&roster).Error
		if err != nil {
			// One shift's roster failing must not stop the rest
			slog.Error("break compliance roster query failed", "shift_id", s.ID, "err", err)
			continue
		}
		for _, a := range roster {
			work = append(work, item{assignment: a, shift: s, required: required})
		}
	}

	return e.runBatch(ctx, RuleBreakCompliance, len(work), func(ctx context.Context, i int) error {
		it := work[i]
		return e.enforceBreak(ctx, &it.assignment, it.required, now)
	})
}

func (e *Engine) enforceBreak(ctx context.Context, a *models.Assignment, requiredMinutes int, now time.Time) error {
	hoursWorked := now.Sub(*a.CheckInAt).Hours()
	if hoursWorked < 0 {
		hoursWorked = 0
	}
	check := EvaluateBreak(hoursWorked, a.BreakMinutes, requiredMinutes)

	if check.NeedsReminder && a.BreakReminderAt == nil {
		// Claim the reminder slot first so a racing run cannot send twice
		res := e.DB.WithContext(ctx).Model(&models.Assignment{}).
			Where("id = ? AND status = ? AND break_reminder_at IS NULL", a.ID, models.AssignmentCheckedIn).
			Update("break_reminder_at", now)
		if res.Error != nil {
			return fmt.Errorf("assignment %s worker %s: %w", a.ID, a.WorkerID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errConflict
		}
		if err := e.Notifier.NotifyWorker(ctx, a.WorkerID, a.ID, notify.KindBreakReminder); err != nil {
			return fmt.Errorf("assignment %s worker %s: reminder: %w", a.ID, a.WorkerID, err)
		}
	}

	if !check.Compliant && check.RequiresBreak && a.BreakRequiredBy == nil {
		res := e.DB.WithContext(ctx).Model(&models.Assignment{}).
			Where("id = ? AND break_required_by IS NULL", a.ID).
			Updates(map[string]any{
				"break_required_by":  now,
				"last_transition_by": RuleBreakCompliance,
				"last_transition_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("assignment %s worker %s: %w", a.ID, a.WorkerID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errConflict
		}
	}

	return nil
}
