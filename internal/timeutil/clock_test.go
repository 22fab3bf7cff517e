package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(5 * time.Second)
	if got := clock.Since(start); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}

	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), start)
	}
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewSteppingClock(start, 10*time.Millisecond)

	t0 := clock.Now()
	if !t0.Equal(start) {
		t.Fatalf("first Now() = %v, want %v", t0, start)
	}
	if got := clock.Since(t0); got != 10*time.Millisecond {
		t.Errorf("Since() = %v, want 10ms", got)
	}
	if got := clock.Now().Sub(t0); got != 10*time.Millisecond {
		t.Errorf("second Now() offset = %v, want 10ms", got)
	}
}
