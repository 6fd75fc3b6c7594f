package lifecycle

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shiftpay/lifecycle-api-go/internal/clock"
	"github.com/shiftpay/lifecycle-api-go/pkg/notify"
)

// Rule names, stamped into audit fields and run records
const (
	RuleAutoClockOut     = "auto_clock_out"
	RuleNoShow           = "no_show_detection"
	RuleBreakCompliance  = "break_compliance"
	RuleEscrowRelease    = "escrow_release"
	RuleInstantPayout    = "instant_payout"
	RuleRefundDetection  = "refund_detection"
	RuleRefundProcessing = "refund_processing"
)

// Config holds the time windows and batch limits for every rule
type Config struct {
	ClockOutGrace     time.Duration // after scheduled shift end
	NoShowGrace       time.Duration // after scheduled shift start
	EscrowDwell       time.Duration // after assignment check-out
	PayoutDwell       time.Duration // after escrow release
	RefundCutoff      time.Duration // minimum cancellation lead time
	BreakThreshold    time.Duration // shift duration that mandates a break
	MaxRefundAttempts int
	RefundBackoffBase time.Duration
	MaxPayoutFailures int
	PoolSize          int
	BatchTimeout      time.Duration
}

// DefaultConfig returns the production windows
func DefaultConfig() Config {
	return Config{
		ClockOutGrace:     30 * time.Minute,
		NoShowGrace:       30 * time.Minute,
		EscrowDwell:       15 * time.Minute,
		PayoutDwell:       15 * time.Minute,
		RefundCutoff:      72 * time.Hour,
		BreakThreshold:    6 * time.Hour,
		MaxRefundAttempts: 5,
		RefundBackoffBase: time.Minute,
		MaxPayoutFailures: 3,
		PoolSize:          8,
		BatchTimeout:      2 * time.Minute,
	}
}

// Engine is the lifecycle rules engine. Each rule is a Run* method
// returning a RunSummary; all of them share the injected clock, the
// store and the collaborator interfaces.
type Engine struct {
	DB          *gorm.DB
	Clock       clock.Clock
	Config      Config
	Notifier    notify.WorkerNotifier
	Reliability notify.ReliabilityService
	Processor   notify.PaymentProcessor
}

// New creates an engine with logging collaborators; callers swap in
// real ones where available
func New(db *gorm.DB, clk clock.Clock, cfg Config) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		DB:          db,
		Clock:       clk,
		Config:      cfg,
		Notifier:    notify.LogNotifier{},
		Reliability: notify.LogReliability{},
		Processor:   &notify.StubProcessor{},
	}
}

// Run invokes the named rule; used by the manual trigger endpoint
func (e *Engine) Run(ctx context.Context, rule string) (RunSummary, error) {
	switch rule {
	case RuleAutoClockOut:
		return e.RunAutoClockOut(ctx), nil
	case RuleNoShow:
		return e.RunNoShowDetection(ctx), nil
	case RuleBreakCompliance:
		return e.RunBreakCompliance(ctx), nil
	case RuleEscrowRelease:
		return e.RunEscrowRelease(ctx), nil
	case RuleInstantPayout:
		return e.RunInstantPayout(ctx), nil
	case RuleRefundDetection:
		return e.RunRefundDetection(ctx), nil
	case RuleRefundProcessing:
		return e.RunRefundProcessing(ctx), nil
	}
	return RunSummary{}, fmt.Errorf("unknown rule %q", rule)
}

// Rules lists every rule name the engine can run
func Rules() []string {
	return []string{
		RuleAutoClockOut,
		RuleNoShow,
		RuleBreakCompliance,
		RuleEscrowRelease,
		RuleInstantPayout,
		RuleRefundDetection,
		RuleRefundProcessing,
	}
}
