package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
)

// Job pairs a rule with its cadence
type Job struct {
	Rule  string
	Every time.Duration
}

// DefaultJobs is the production cadence table
func DefaultJobs() []Job {
	return []Job{
		{Rule: lifecycle.RuleAutoClockOut, Every: 5 * time.Minute},
		{Rule: lifecycle.RuleNoShow, Every: 5 * time.Minute},
		{Rule: lifecycle.RuleBreakCompliance, Every: 5 * time.Minute},
		{Rule: lifecycle.RuleEscrowRelease, Every: 5 * time.Minute},
		{Rule: lifecycle.RuleInstantPayout, Every: 15 * time.Minute},
		{Rule: lifecycle.RuleRefundDetection, Every: 24 * time.Hour},
		{Rule: lifecycle.RuleRefundProcessing, Every: 10 * time.Minute},
	}
}

// Scheduler drives the lifecycle engine: one ticker loop per job, no
// business logic of its own. When refund detection creates refunds it
// kicks the processing loop immediately instead of waiting a full
// interval.
type Scheduler struct {
	Engine *lifecycle.Engine
	Jobs   []Job

	kickRefunds chan struct{}
	wg          sync.WaitGroup
}

// New creates a scheduler over the given engine and cadence table
func New(engine *lifecycle.Engine, jobs []Job) *Scheduler {
	if len(jobs) == 0 {
		jobs = DefaultJobs()
	}
	return &Scheduler{
		Engine:      engine,
		Jobs:        jobs,
		kickRefunds: make(chan struct{}, 1),
	}
}

// Start launches the job loops; they stop when ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.Jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.runLoop(ctx, j)
		}(job)
	}
}

// Wait blocks until every job loop has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		if job.Rule == lifecycle.RuleRefundProcessing {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.kickRefunds:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		s.runJob(ctx, job.Rule)
	}
}

func (s *Scheduler) runJob(ctx context.Context, rule string) {
	sum, err := s.Engine.Run(ctx, rule)
	if err != nil {
		slog.Error("scheduled run failed", "rule", rule, "err", err)
		return
	}
	if rule == lifecycle.RuleRefundDetection && sum.Succeeded > 0 {
		s.KickRefundProcessing()
	}
}

// KickRefundProcessing asks the refund processing loop to run soon;
// a kick already pending is enough
func (s *Scheduler) KickRefundProcessing() {
	select {
	case s.kickRefunds <- struct{}{}:
	default:
	}
}
