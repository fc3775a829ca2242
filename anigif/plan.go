package anigif

import (
	"time"

	"github.com/golang/glog"
)

// Plan decides which source frames are emitted and for how long each is
// shown.
//
// When a file has more frames than the budget, every Step-th frame is kept
// and the delays of the skipped frames are added to the kept frame before
// them. The sum of emitted delays then equals the sum of all source delays.
type Plan struct {
	keep   []bool
	merged []time.Duration

	// Step is the sampling interval; 1 means every frame is kept.
	Step int
	// Budget is the maximum number of frames to emit.
	Budget int
}

// NewPlan computes a plan for frames with the passed delays. A budget below
// one is treated as one.
func NewPlan(delays []time.Duration, budget int) *Plan {
	if budget < 1 {
		budget = 1
	}
	s := len(delays)
	if s == 0 {
		return FallbackPlan(budget)
	}
	step := 1
	if s > budget {
		step = (s + budget - 1) / budget
	}
	p := &Plan{
		keep:   make([]bool, s),
		merged: make([]time.Duration, s),
		Step:   step,
		Budget: budget,
	}
	for i := range p.keep {
		p.keep[i] = i%step == 0
	}
	p.keep[0] = true

	last := 0
	for i, d := range delays {
		if p.keep[i] {
			last = i
		}
		if d < MinDelay {
			d = MinDelay
		}
		p.merged[last] += d
	}
	return p
}

// FallbackPlan returns a plan that emits the first budget frames with their
// own delays. It is used when the file could not be scanned.
func FallbackPlan(budget int) *Plan {
	if budget < 1 {
		budget = 1
	}
	return &Plan{Step: 1, Budget: budget}
}

// BuildPlan scans data and computes its plan. If the scan fails or finds no
// frames, a fallback plan is returned together with the scan error, if any.
func BuildPlan(data []byte, budget int) (*Plan, error) {
	res, err := Scan(data)
	if err != nil || res.Frames() == 0 {
		glog.V(1).Infof("anigif: no frame plan (frames=%d, err=%v); emitting first %d frames", res.Frames(), err, budget)
		return FallbackPlan(budget), err
	}
	p := NewPlan(res.Delays, budget)
	glog.V(1).Infof("anigif: plan srcFrames=%d keep=%d step=%d budget=%d total=%v", res.Frames(), p.Kept(), p.Step, p.Budget, p.Total())
	return p, nil
}

// IsFallback reports whether the plan was built without scan data.
func (p *Plan) IsFallback() bool {
	return p.keep == nil
}

// SourceFrames returns the number of frames the plan was computed for, or
// zero for a fallback plan.
func (p *Plan) SourceFrames() int {
	return len(p.keep)
}

// Kept returns the number of frames the plan will emit. For a fallback plan
// this is the budget.
func (p *Plan) Kept() int {
	if p.IsFallback() {
		return p.Budget
	}
	n := 0
	for _, k := range p.keep {
		if k {
			n++
		}
	}
	return n
}

// ShouldEmit reports whether source frame src is emitted, given that
// emitted frames were emitted before it.
func (p *Plan) ShouldEmit(src, emitted int) bool {
	if p.IsFallback() {
		return emitted < p.Budget
	}
	if src < 0 || src >= len(p.keep) {
		return false
	}
	return p.keep[src]
}

// DelayFor returns the delay to show source frame src for. raw is the delay
// decoded for that frame and is used when the plan has nothing better.
func (p *Plan) DelayFor(src int, raw time.Duration) time.Duration {
	if raw < MinDelay {
		raw = MinDelay
	}
	if p.IsFallback() || src < 0 || src >= len(p.merged) {
		return raw
	}
	if d := p.merged[src]; d > 0 {
		return d
	}
	return raw
}

// Delays returns the merged delays of the kept frames, in order.
func (p *Plan) Delays() []time.Duration {
	var out []time.Duration
	for i, k := range p.keep {
		if k {
			out = append(out, p.merged[i])
		}
	}
	return out
}

// Total returns the sum of all merged delays.
func (p *Plan) Total() time.Duration {
	var t time.Duration
	for _, d := range p.merged {
		t += d
	}
	return t
}
