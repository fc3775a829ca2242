package anigif

import (
	"testing"
	"time"

	"github.com/bradfitz/iter"

	"badc0de.net/pkg/go-animgif/ttesting"
)

func testDelays(n int) []time.Duration {
	d := make([]time.Duration, n)
	for i := range iter.N(n) {
		// Includes zero and sub-minimum delays.
		d[i] = time.Duration(i%7) * 10 * time.Millisecond
	}
	return d
}

func clampedSum(delays []time.Duration) time.Duration {
	var s time.Duration
	for _, d := range delays {
		if d < MinDelay {
			d = MinDelay
		}
		s += d
	}
	return s
}

func TestPlanWithinBudget(t *testing.T) {
	delays := testDelays(12)
	p := NewPlan(delays, 12)
	ttesting.AssertEqualInt(t, "step", p.Step, 1)
	ttesting.AssertEqualInt(t, "kept", p.Kept(), 12)
	for i, d := range delays {
		if d < MinDelay {
			d = MinDelay
		}
		if !p.ShouldEmit(i, i) {
			t.Errorf("frame %d not kept", i)
		}
		if got := p.DelayFor(i, d); got != d {
			t.Errorf("frame %d: delay %v, want %v", i, got, d)
		}
	}
}

func TestPlanOverBudget(t *testing.T) {
	for s := 1; s <= 300; s += 7 {
		for b := 1; b <= 70; b += 3 {
			delays := testDelays(s)
			p := NewPlan(delays, b)

			step := 1
			if s > b {
				step = (s + b - 1) / b
			}
			if p.Step != step {
				t.Fatalf("S=%d B=%d: step %d, want %d", s, b, p.Step, step)
			}
			if !p.ShouldEmit(0, 0) {
				t.Fatalf("S=%d B=%d: frame 0 not kept", s, b)
			}
			if want := (s + step - 1) / step; p.Kept() != want {
				t.Fatalf("S=%d B=%d: kept %d, want %d", s, b, p.Kept(), want)
			}
			if p.Kept() > b {
				t.Fatalf("S=%d B=%d: kept %d frames", s, b, p.Kept())
			}
			var sum time.Duration
			for _, d := range p.Delays() {
				sum += d
			}
			if want := clampedSum(delays); sum != want {
				t.Fatalf("S=%d B=%d: merged sum %v, want %v", s, b, sum, want)
			}
		}
	}
}

func TestPlanKeepsEveryFrame(t *testing.T) {
	delays := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond}
	p := NewPlan(delays, 60)
	ttesting.AssertEqualInt(t, "kept", p.Kept(), 3)
	for i, d := range p.Delays() {
		ttesting.AssertEqualDuration(t, "merged delay", d, delays[i])
	}
}

func TestPlanLongAnimation(t *testing.T) {
	delays := make([]time.Duration, 1000)
	for i := range delays {
		delays[i] = time.Duration(20+i%5*10) * time.Millisecond
	}
	p := NewPlan(delays, 60)
	ttesting.AssertEqualInt(t, "step", p.Step, 17)
	ttesting.AssertInRangeInt(t, "kept", p.Kept(), 1, 60)
	ttesting.AssertEqualBool(t, "frame 0 kept", p.ShouldEmit(0, 0), true)
	ttesting.AssertEqualBool(t, "frame 1 skipped", p.ShouldEmit(1, 1), false)
	ttesting.AssertEqualDuration(t, "total", p.Total(), clampedSum(delays))

	// Frame 0 carries its own delay and those of frames 1..16.
	ttesting.AssertEqualDuration(t, "first merged delay", p.DelayFor(0, delays[0]), clampedSum(delays[:17]))
}

func TestFallbackPlan(t *testing.T) {
	p := FallbackPlan(3)
	ttesting.AssertEqualBool(t, "fallback", p.IsFallback(), true)
	ttesting.AssertEqualBool(t, "emits while under budget", p.ShouldEmit(10, 2), true)
	ttesting.AssertEqualBool(t, "stops at budget", p.ShouldEmit(11, 3), false)
	ttesting.AssertEqualDuration(t, "raw delay", p.DelayFor(0, 70*time.Millisecond), 70*time.Millisecond)
	ttesting.AssertEqualDuration(t, "clamped raw delay", p.DelayFor(0, 0), MinDelay)

	p, err := BuildPlan([]byte("definitely not a gif"), 5)
	if err == nil {
		t.Errorf("BuildPlan on junk: want error")
	}
	ttesting.AssertEqualBool(t, "junk gives fallback", p.IsFallback(), true)
	ttesting.AssertEqualInt(t, "zero budget", FallbackPlan(0).Budget, 1)
}
