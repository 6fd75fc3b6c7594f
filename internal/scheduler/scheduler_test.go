package scheduler

import (
	"testing"
	"time"

	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
)

func TestDefaultJobsCoverEveryRule(t *testing.T) {
	jobs := DefaultJobs()
	byRule := make(map[string]time.Duration, len(jobs))
	for _, j := range jobs {
		byRule[j.Rule] = j.Every
	}

	for _, rule := range lifecycle.Rules() {
		every, ok := byRule[rule]
		if !ok {
			t.Errorf("No cadence for rule %s", rule)
			continue
		}
		if every <= 0 {
			t.Errorf("Non-positive cadence for rule %s", rule)
		}
	}
}

func TestKickRefundProcessingNeverBlocks(t *testing.T) {
	s := New(nil, nil)

	// A pending kick is enough; repeated kicks must coalesce, not block
	for i := 0; i < 10; i++ {
		s.KickRefundProcessing()
	}

	select {
	case <-s.kickRefunds:
	default:
		t.Errorf("Expected a pending kick")
	}
	select {
	case <-s.kickRefunds:
		t.Errorf("Expected kicks to coalesce into one")
	default:
	}
}
