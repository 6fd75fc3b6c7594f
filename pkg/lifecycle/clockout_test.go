package lifecycle

import (
	"context"
	"testing"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

func TestAutoClockOutOvernightShift(t *testing.T) {
	// Shift 2024-01-10 22:00 -> 06:00 (overnight); worker checks in on
	// time and never checks out. Detection at 06:35 the next day.
	e, _, _ := newTestEngine(t, at(2024, 1, 11, 6, 35))

	shift := createShift(t, e, date(2024, 1, 10), "22:00", "06:00", models.ShiftInProgress)
	checkIn := at(2024, 1, 10, 22, 0)
	a := createAssignment(t, e, shift, models.AssignmentCheckedIn, &checkIn)

	sum := e.RunAutoClockOut(context.Background())
	if sum.Succeeded != 1 {
		t.Fatalf("Expected 1 success, got %+v", sum)
	}

	got := reloadAssignment(t, e, a.ID)
	if got.Status != models.AssignmentCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if !got.AutoClockedOut {
		t.Errorf("Expected auto_clocked_out to be set")
	}
	if got.CheckOutAt == nil {
		t.Fatalf("Expected check-out timestamp")
	}
	// Credited for scheduled hours: check-out is the shift end, not now
	if want := at(2024, 1, 11, 6, 0); !got.CheckOutAt.Equal(want) {
		t.Errorf("Expected check-out %v, got %v", want, got.CheckOutAt)
	}
	if got.GrossHours != 8 {
		t.Errorf("Expected 8 gross hours, got %f", got.GrossHours)
	}
	if got.LastTransitionBy != RuleAutoClockOut {
		t.Errorf("Expected audit trail %s, got %s", RuleAutoClockOut, got.LastTransitionBy)
	}
}

func TestAutoClockOutRespectsGrace(t *testing.T) {
	// Shift ends 17:00; at 17:20 the grace period has not elapsed
	e, fake, _ := newTestEngine(t, at(2024, 1, 10, 17, 20))

	shift := createShift(t, e, date(2024, 1, 10), "09:00", "17:00", models.ShiftInProgress)
	checkIn := at(2024, 1, 10, 9, 0)
	a := createAssignment(t, e, shift, models.AssignmentCheckedIn, &checkIn)

	sum := e.RunAutoClockOut(context.Background())
	if sum.Processed != 0 {
		t.Errorf("Expected no eligible assignments before grace elapses, got %+v", sum)
	}

	fake.Set(at(2024, 1, 10, 17, 31))
	sum = e.RunAutoClockOut(context.Background())
	if sum.Succeeded != 1 {
		t.Fatalf("Expected 1 success after grace, got %+v", sum)
	}

	got := reloadAssignment(t, e, a.ID)
	if got.CheckOutAt == nil || !got.CheckOutAt.Equal(at(2024, 1, 10, 17, 0)) {
		t.Errorf("Expected check-out at scheduled end, got %v", got.CheckOutAt)
	}
}

func TestAutoClockOutDeductsBreaks(t *testing.T) {
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 18, 0))

	shift := createShift(t, e, date(2024, 1, 10), "09:00", "17:00", models.ShiftInProgress)
	checkIn := at(2024, 1, 10, 9, 0)
	a := createAssignment(t, e, shift, models.AssignmentCheckedIn, &checkIn)
	if err := e.DB.Model(a).Update("break_minutes", 30).Error; err != nil {
		t.Fatalf("set break minutes: %v", err)
	}

	if sum := e.RunAutoClockOut(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected 1 success, got %+v", sum)
	}

	got := reloadAssignment(t, e, a.ID)
	if got.GrossHours != 8 {
		t.Errorf("Expected 8 gross hours, got %f", got.GrossHours)
	}
	if got.NetHours != 7.5 {
		t.Errorf("Expected 7.5 net hours, got %f", got.NetHours)
	}
}

func TestAutoClockOutSecondRunIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t, at(2024, 1, 11, 6, 35))

	shift := createShift(t, e, date(2024, 1, 10), "22:00", "06:00", models.ShiftInProgress)
	checkIn := at(2024, 1, 10, 22, 0)
	createAssignment(t, e, shift, models.AssignmentCheckedIn, &checkIn)

	if sum := e.RunAutoClockOut(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected first run to succeed, got %+v", sum)
	}
	if sum := e.RunAutoClockOut(context.Background()); sum.Processed != 0 {
		t.Errorf("Expected second run to find nothing, got %+v", sum)
	}
}

func TestAutoClockOutCompletesShift(t *testing.T) {
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 18, 0))

	shift := createShift(t, e, date(2024, 1, 10), "09:00", "17:00", models.ShiftInProgress)
	checkIn := at(2024, 1, 10, 9, 0)
	createAssignment(t, e, shift, models.AssignmentCheckedIn, &checkIn)

	if sum := e.RunAutoClockOut(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected 1 success, got %+v", sum)
	}

	if got := reloadShift(t, e, shift.ID); got.Status != models.ShiftCompleted {
		t.Errorf("Expected shift completed once roster is terminal, got %s", got.Status)
	}
}
