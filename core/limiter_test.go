package core

import (
	"errors"
	"testing"
)

func TestStepLimiter(t *testing.T) {
	l := NewStepLimiter(2)
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", l.Remaining())
	}
	err := l.Increment()
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
	if l.Count() != 3 {
		t.Fatalf("expected count 3, got %d", l.Count())
	}
}

func TestStepLimiter_Unlimited(t *testing.T) {
	l := NewStepLimiter(0)
	for i := 0; i < 100; i++ {
		if err := l.Increment(); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if l.Remaining() != -1 {
		t.Fatalf("expected unlimited, got %d", l.Remaining())
	}
}
