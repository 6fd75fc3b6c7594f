package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// NotificationKind identifies which message a worker should receive
type NotificationKind string

const (
	KindBreakReminder NotificationKind = "break_reminder"
	KindBreakRequired NotificationKind = "break_required"
	KindAutoClockOut  NotificationKind = "auto_clock_out"
	KindNoShow        NotificationKind = "no_show"
)

// WorkerNotifier delivers messages to workers. Implementations talk to
// the messaging subsystem; failures are logged and never block a rule run.
type WorkerNotifier interface {
	NotifyWorker(ctx context.Context, workerID, assignmentID uuid.UUID, kind NotificationKind) error
}

// ReliabilityService adjusts a worker's reliability score
type ReliabilityService interface {
	RecordNoShow(ctx context.Context, workerID uuid.UUID) error
}

// PaymentProcessor moves real money. All calls are fallible remote calls;
// callers own their timeout via ctx.
type PaymentProcessor interface {
	Payout(ctx context.Context, paymentID uuid.UUID, amountCents int64) error
	Refund(ctx context.Context, paymentID, refundID uuid.UUID, amountCents int64) error
}

// LogNotifier is the default WorkerNotifier: it only logs. Used in dev
// and as a safe fallback when no messaging backend is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyWorker(ctx context.Context, workerID, assignmentID uuid.UUID, kind NotificationKind) error {
	slog.Info("worker notification", "worker_id", workerID, "assignment_id", assignmentID, "kind", kind)
	return nil
}

// LogReliability is the default ReliabilityService
type LogReliability struct{}

func (LogReliability) RecordNoShow(ctx context.Context, workerID uuid.UUID) error {
	slog.Info("reliability no-show recorded", "worker_id", workerID)
	return nil
}

// StubProcessor records payouts and refunds in memory. It stands in for
// the real gateway in dev and tests.
type StubProcessor struct {
	mu      sync.Mutex
	Payouts []uuid.UUID
	Refunds []uuid.UUID

	// FailPayout and FailRefund, when set, are returned instead of success
	FailPayout error
	FailRefund error
}

func (p *StubProcessor) Payout(ctx context.Context, paymentID uuid.UUID, amountCents int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailPayout != nil {
		return p.FailPayout
	}
	p.Payouts = append(p.Payouts, paymentID)
	return nil
}

func (p *StubProcessor) Refund(ctx context.Context, paymentID, refundID uuid.UUID, amountCents int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailRefund != nil {
		return p.FailRefund
	}
	p.Refunds = append(p.Refunds, refundID)
	return nil
}

// PayoutCount reports how many payouts the stub has accepted
func (p *StubProcessor) PayoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Payouts)
}

// RefundCount reports how many refunds the stub has accepted
func (p *StubProcessor) RefundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Refunds)
}
