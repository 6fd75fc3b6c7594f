package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

func cancelledShiftWithPayment(t *testing.T, e *Engine, shiftDate time.Time, start string, cancelledAt time.Time) *models.Payment {
	t.Helper()
	shift := createShift(t, e, shiftDate, start, "17:00", models.ShiftCancelled)
	if err := e.DB.Model(shift).Update("cancelled_at", cancelledAt).Error; err != nil {
		t.Fatalf("set cancelled_at: %v", err)
	}
	a := createAssignment(t, e, shift, models.AssignmentCancelled, nil)
	return createPayment(t, e, a, models.PaymentInEscrow)
}

func refundsFor(t *testing.T, e *Engine, paymentID uuid.UUID) []models.Refund {
	t.Helper()
	var refunds []models.Refund
	if err := e.DB.Where("payment_id = ?", paymentID).Find(&refunds).Error; err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	return refunds
}

func TestRefundDetectionCreatesRefundWithEnoughLead(t *testing.T) {
	// Shift starts 80h from the cancellation: well past the 72h cutoff
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 12, 0))
	cancelledAt := at(2024, 1, 7, 1, 0)
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", cancelledAt)

	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund created, got %+v", sum)
	}

	refunds := refundsFor(t, e, p.ID)
	if len(refunds) != 1 {
		t.Fatalf("Expected 1 refund, got %d", len(refunds))
	}
	r := refunds[0]
	if r.Status != models.RefundPending {
		t.Errorf("Expected pending refund, got %s", r.Status)
	}
	if r.AmountCents != p.GrossCents {
		t.Errorf("Expected full escrowed amount %d, got %d", p.GrossCents, r.AmountCents)
	}
	if r.Reason != ReasonShiftCancelled {
		t.Errorf("Expected reason %s, got %s", ReasonShiftCancelled, r.Reason)
	}
}

func TestRefundDetectionSkipsLateCancellation(t *testing.T) {
	// Only 40h of lead time: excluded from automatic refund
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 12, 0))
	cancelledAt := at(2024, 1, 8, 17, 0)
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", cancelledAt)

	if sum := e.RunRefundDetection(context.Background()); sum.Processed != 0 {
		t.Errorf("Expected no refund for late cancellation, got %+v", sum)
	}
	if refunds := refundsFor(t, e, p.ID); len(refunds) != 0 {
		t.Errorf("Expected no refunds, got %d", len(refunds))
	}
}

func TestRefundDetectionIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 12, 0))
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", at(2024, 1, 6, 12, 0))

	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund created, got %+v", sum)
	}
	sum := e.RunRefundDetection(context.Background())
	if sum.Succeeded != 0 || sum.Skipped != 1 {
		t.Errorf("Expected second detection to skip the existing refund, got %+v", sum)
	}
	if refunds := refundsFor(t, e, p.ID); len(refunds) != 1 {
		t.Errorf("Expected a single refund, got %d", len(refunds))
	}
}

func TestRefundDetectionPicksUpNoShowFlag(t *testing.T) {
	e, _, _ := newTestEngine(t, at(2024, 1, 10, 9, 31))

	shift := createShift(t, e, date(2024, 1, 10), "09:00", "17:00", models.ShiftAssigned)
	a := createAssignment(t, e, shift, models.AssignmentAssigned, nil)
	p := createPayment(t, e, a, models.PaymentInEscrow)

	if sum := e.RunNoShowDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected no-show, got %+v", sum)
	}
	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund for flagged payment, got %+v", sum)
	}

	refunds := refundsFor(t, e, p.ID)
	if len(refunds) != 1 || refunds[0].Reason != ReasonWorkerNoShow {
		t.Errorf("Expected one no-show refund, got %+v", refunds)
	}
}

func TestRefundProcessingCompletesAndRefundsPayment(t *testing.T) {
	e, _, proc := newTestEngine(t, at(2024, 1, 10, 12, 0))
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", at(2024, 1, 6, 12, 0))

	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund created, got %+v", sum)
	}
	if sum := e.RunRefundProcessing(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund processed, got %+v", sum)
	}

	refunds := refundsFor(t, e, p.ID)
	if refunds[0].Status != models.RefundCompleted {
		t.Errorf("Expected completed refund, got %s", refunds[0].Status)
	}
	if got := reloadPayment(t, e, p.ID); got.Status != models.PaymentRefunded {
		t.Errorf("Expected payment refunded, got %s", got.Status)
	}
	if proc.RefundCount() != 1 {
		t.Errorf("Expected exactly one processor refund call, got %d", proc.RefundCount())
	}
}

func TestRefundProcessingRetriesWithBackoff(t *testing.T) {
	e, fake, proc := newTestEngine(t, at(2024, 1, 10, 12, 0))
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", at(2024, 1, 6, 12, 0))

	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund created, got %+v", sum)
	}

	proc.FailRefund = errors.New("processor timeout")
	if sum := e.RunRefundProcessing(context.Background()); sum.Failed != 1 {
		t.Fatalf("Expected first attempt to fail, got %+v", sum)
	}

	refunds := refundsFor(t, e, p.ID)
	r := refunds[0]
	if r.Status != models.RefundProcessing || r.Attempts != 1 {
		t.Fatalf("Expected processing with 1 attempt, got %+v", r)
	}
	if r.NextAttemptAt == nil || !r.NextAttemptAt.After(e.Clock.Now()) {
		t.Errorf("Expected backoff before the next attempt")
	}

	// Before the backoff elapses the refund is not picked up again
	if sum := e.RunRefundProcessing(context.Background()); sum.Processed != 0 {
		t.Errorf("Expected refund held back by backoff, got %+v", sum)
	}

	// Once it elapses and the processor recovers, the refund completes
	proc.FailRefund = nil
	fake.Advance(2 * time.Minute)
	if sum := e.RunRefundProcessing(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected retry to succeed, got %+v", sum)
	}
}

func TestRefundProcessingFailsTerminally(t *testing.T) {
	e, fake, proc := newTestEngine(t, at(2024, 1, 10, 12, 0))
	p := cancelledShiftWithPayment(t, e, date(2024, 1, 10), "09:00", at(2024, 1, 6, 12, 0))

	if sum := e.RunRefundDetection(context.Background()); sum.Succeeded != 1 {
		t.Fatalf("Expected refund created, got %+v", sum)
	}

	proc.FailRefund = errors.New("account closed")
	for i := 0; i < e.Config.MaxRefundAttempts; i++ {
		e.RunRefundProcessing(context.Background())
		fake.Advance(time.Duration(1<<uint(i+1)) * e.Config.RefundBackoffBase)
	}

	refunds := refundsFor(t, e, p.ID)
	r := refunds[0]
	if r.Status != models.RefundFailed {
		t.Fatalf("Expected terminal failure after %d attempts, got %+v", e.Config.MaxRefundAttempts, r)
	}
	if r.Active != nil {
		t.Errorf("Expected active slot freed on terminal failure")
	}
	if r.Attempts != e.Config.MaxRefundAttempts {
		t.Errorf("Expected %d attempts, got %d", e.Config.MaxRefundAttempts, r.Attempts)
	}

	// The exhausted refund never re-enters the eligible set
	if sum := e.RunRefundProcessing(context.Background()); sum.Processed != 0 {
		t.Errorf("Expected failed refund excluded from processing, got %+v", sum)
	}
}
