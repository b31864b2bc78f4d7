package core

import (
	"fmt"
	"sync"
)

// StepLimiter enforces the cooperative step cap of a run. One step is one
// model invocation.
type StepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepLimiter creates a limiter allowing max steps.
// If max == 0, unlimited steps are allowed.
func NewStepLimiter(max int) *StepLimiter {
	return &StepLimiter{max: max}
}

// Increment records a step and returns an error wrapping ErrMaxStepsExceeded
// once the cap is exceeded.
func (sl *StepLimiter) Increment() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.count++
	if sl.max > 0 && sl.count > sl.max {
		return fmt.Errorf("%w: limit %d", ErrMaxStepsExceeded, sl.max)
	}

	return nil
}

// Count returns the number of recorded steps.
func (sl *StepLimiter) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}

// Remaining returns how many steps are left before hitting the limit.
func (sl *StepLimiter) Remaining() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.max == 0 {
		return -1 // unlimited
	}

	if sl.count >= sl.max {
		return 0
	}

	return sl.max - sl.count
}
