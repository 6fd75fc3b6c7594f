package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Errorf("Expected pinned time %v, got %v", start, f.Now())
	}

	f.Advance(15 * time.Minute)
	if want := start.Add(15 * time.Minute); !f.Now().Equal(want) {
		t.Errorf("Expected %v after advance, got %v", want, f.Now())
	}

	later := start.Add(24 * time.Hour)
	f.Set(later)
	if !f.Now().Equal(later) {
		t.Errorf("Expected %v after set, got %v", later, f.Now())
	}
}

func TestRealClockIsUTC(t *testing.T) {
	zone, _ := (Real{}).Now().Zone()
	if zone != "UTC" {
		t.Errorf("Expected UTC, got %s", zone)
	}
}
