package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to the lifecycle rules so that tests
// can move time forward deterministically
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a settable clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set pins the clock at t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
