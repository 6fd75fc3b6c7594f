package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shiftpay/lifecycle-api-go/pkg/metrics"
	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// errConflict marks a benign race: the record left the expected source
// state between the eligibility query and the conditional update.
// Another rule or run already handled it, so it is skipped, not failed.
var errConflict = errors.New("record no longer in expected state")

// maxSummaryErrors caps how many per-record errors one summary carries
const maxSummaryErrors = 25

// RunSummary is the result of one rule run
type RunSummary struct {
	Rule       string    `json:"rule"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Errors     []string  `json:"errors,omitempty"`
}

// runBatch applies work to each of total records through a bounded
// worker pool. One record's error or panic never stops the rest; on
// batch timeout the feed stops handing out new records and in-flight
// ones finish. The summary is persisted and exported before return.
func (e *Engine) runBatch(ctx context.Context, rule string, total int, work func(ctx context.Context, i int) error) RunSummary {
	sum := RunSummary{Rule: rule, StartedAt: e.Clock.Now()}

	if total > 0 {
		ctx, cancel := context.WithTimeout(ctx, e.Config.BatchTimeout)
		defer cancel()

		workers := e.Config.PoolSize
		if workers < 1 {
			workers = 1
		}
		if workers > total {
			workers = total
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		jobs := make(chan int)

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					err := e.runOne(ctx, work, i)
					mu.Lock()
					sum.Processed++
					switch {
					case err == nil:
						sum.Succeeded++
					case errors.Is(err, errConflict):
						sum.Skipped++
					default:
						sum.Failed++
						if len(sum.Errors) < maxSummaryErrors {
							sum.Errors = append(sum.Errors, err.Error())
						}
					}
					mu.Unlock()
				}
			}()
		}

	feed:
		for i := 0; i < total; i++ {
			select {
			case <-ctx.Done():
				slog.Warn("batch deadline hit, reporting partial completion",
					"rule", rule, "fed", i, "total", total)
				break feed
			case jobs <- i:
			}
		}
		close(jobs)
		wg.Wait()
	}

	sum.FinishedAt = e.Clock.Now()
	e.recordRun(&sum)
	return sum
}

// runOne isolates a single record: a panic becomes an error
func (e *Engine) runOne(ctx context.Context, work func(ctx context.Context, i int) error, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, i)
}

// recordRun persists the run record and exports metrics. Failures here
// are logged only; a bookkeeping error must not fail the run itself.
func (e *Engine) recordRun(sum *RunSummary) {
	rec := models.RunRecord{
		Rule:       sum.Rule,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Processed:  sum.Processed,
		Succeeded:  sum.Succeeded,
		Failed:     sum.Failed,
		Skipped:    sum.Skipped,
	}
	if len(sum.Errors) > 0 {
		rec.FirstError = sum.Errors[0]
	}
	if err := e.DB.Create(&rec).Error; err != nil {
		slog.Error("run record write failed", "rule", sum.Rule, "err", err)
	}
	metrics.ObserveRun(sum.Rule, sum.Processed, sum.Succeeded, sum.Failed, sum.Skipped,
		sum.FinishedAt.Sub(sum.StartedAt))
	if sum.Failed > 0 {
		slog.Warn("rule run finished with failures",
			"rule", sum.Rule, "processed", sum.Processed, "failed", sum.Failed)
	} else {
		slog.Info("rule run finished",
			"rule", sum.Rule, "processed", sum.Processed, "succeeded", sum.Succeeded, "skipped", sum.Skipped)
	}
}
