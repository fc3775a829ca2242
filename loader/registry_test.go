package loader_test

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"badc0de.net/pkg/go-animgif/anigif"
	"badc0de.net/pkg/go-animgif/loader"
	"badc0de.net/pkg/go-animgif/membudget"
	"badc0de.net/pkg/go-animgif/softgpu"
	"badc0de.net/pkg/go-animgif/ttesting"
)

var palette = []color.RGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
	{255, 255, 255, 255},
}

func solid(w, h int, ix byte) []byte {
	b := make([]byte, w*h)
	for i := range b {
		b[i] = ix
	}
	return b
}

// animation returns a w×h GIF whose frame i is filled with palette[i%4].
func animation(w, h, frames int) []byte {
	g := ttesting.NewGIF(w, h, palette)
	for i := 0; i < frames; i++ {
		g.Control(0, 5, false, 0).Image(0, 0, w, h, solid(w, h, byte(i%len(palette))))
	}
	return g.Bytes()
}

func testConfig() loader.Config {
	cfg := loader.DefaultConfig()
	cfg.UploadIntervalSmall = 0
	cfg.UploadIntervalLarge = 0
	cfg.ThrottleDecode = false
	return cfg
}

type fixture struct {
	reg          *loader.Registry
	loop         *softgpu.Loop
	factory      *softgpu.Factory
	placeholders *softgpu.Placeholders
	clock        *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, cfg loader.Config, factory *softgpu.Factory, alloc membudget.Allocator) *fixture {
	t.Helper()
	if factory == nil {
		factory = &softgpu.Factory{}
	}
	f := &fixture{
		loop:         softgpu.NewLoop(),
		factory:      factory,
		placeholders: &softgpu.Placeholders{},
		clock:        &clock{t: time.Unix(1500000000, 0)},
	}
	reg, err := loader.NewRegistry(cfg, loader.Options{
		Factory:      f.factory,
		Render:       f.loop,
		Placeholders: f.placeholders,
		Alloc:        alloc,
		Now:          f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f.reg = reg
	t.Cleanup(reg.Close)
	return f
}

func (f *fixture) runUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.loop.RunUntil(ctx, time.Millisecond, cond); err != nil {
		t.Fatalf("waiting for %s: %v", what, err)
	}
}

func (f *fixture) load(t *testing.T, key string, data []byte) *loader.Entry {
	t.Helper()
	e, err := f.reg.Request(key, loader.BytesSource{ID: key, Data: data})
	if err != nil {
		t.Fatalf("Request(%q): %v", key, err)
	}
	f.runUntil(t, key, e.Loaded)
	return e
}

func pixel(t *testing.T, tex loader.Texture) color.RGBA {
	t.Helper()
	st, ok := tex.(*softgpu.Texture)
	if !ok {
		t.Fatalf("texture %T is not a softgpu texture", tex)
	}
	return st.Image().RGBAAt(0, 0)
}

func TestRequestLoadsAnimation(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	e, err := f.reg.Request("a", loader.BytesSource{ID: "a", Data: animation(16, 8, 3)})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if n := len(e.Frames()); n != 1 || e.Loaded() {
		t.Errorf("fresh entry has %d frames, loaded %v; want the placeholder only", n, e.Loaded())
	}
	if s := e.Frames()[0].Size(); s.X != 16 || s.Y != 8 {
		t.Errorf("placeholder size %v, want 16x8", s)
	}
	f.runUntil(t, "load", e.Loaded)

	frames := e.Frames()
	ttesting.AssertEqualInt(t, "frames", len(frames), 3)
	ttesting.AssertEqualInt(t, "delays", len(e.Delays()), 3)
	ttesting.AssertEqualBool(t, "failed", e.Failed(), false)
	for i, tex := range frames {
		ttesting.AssertEqualRGBA(t, "color", pixel(t, tex), palette[i])
		ttesting.AssertEqualDuration(t, "delay", e.Delays()[i], 50*time.Millisecond)
	}
	ttesting.AssertEqualInt(t, "live textures", f.factory.Live(), 3)
	ttesting.AssertEqualInt(t, "in flight", f.reg.InFlight(), 0)

	if tex, ok := f.reg.Current("a"); !ok || tex != frames[0] {
		t.Errorf("Current = %v, %v; want first frame", tex, ok)
	}
	f.clock.Advance(120 * time.Millisecond)
	if tex, _ := f.reg.Current("a"); tex != frames[2] {
		t.Errorf("Current after 120ms is not the third frame")
	}
	s, ok := f.reg.Status("a")
	if !ok || s.State != loader.StateFinalized || s.Frames != 3 {
		t.Errorf("Status = %v, %v", s, ok)
	}
}

func TestConcurrentRequestsStartOneJob(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	src := loader.BytesSource{ID: "k", Data: animation(8, 8, 4)}

	var wg sync.WaitGroup
	entries := make([]*loader.Entry, 16)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := f.reg.Request("k", src)
			if err != nil {
				t.Errorf("Request: %v", err)
			}
			entries[i] = e
		}(i)
	}
	wg.Wait()

	for _, e := range entries {
		if e != entries[0] {
			t.Fatalf("Request returned different entries for one key")
		}
	}
	ttesting.AssertEqualInt(t, "jobs", f.reg.JobsStarted(), 1)
	f.runUntil(t, "load", entries[0].Loaded)
	ttesting.AssertEqualInt(t, "frames", len(entries[0].Frames()), 4)

	again, _ := f.reg.Request("k", src)
	if again != entries[0] {
		t.Errorf("cached key returned a new entry")
	}
	ttesting.AssertEqualInt(t, "jobs after reload", f.reg.JobsStarted(), 1)
}

func TestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 2
	f := newFixture(t, cfg, nil, nil)
	const n = 12
	e, _ := f.reg.Request("bp", loader.BytesSource{ID: "bp", Data: animation(6, 6, n)})

	maxQueued := 0
	f.runUntil(t, "load", func() bool {
		if s, ok := f.reg.Status("bp"); ok {
			if s.Queued > maxQueued {
				maxQueued = s.Queued
			}
			if s.MaxQueued > maxQueued {
				maxQueued = s.MaxQueued
			}
		}
		return e.Loaded()
	})

	ttesting.AssertInRangeInt(t, "max queued", maxQueued, 0, 2)
	frames := e.Frames()
	ttesting.AssertEqualInt(t, "frames", len(frames), n)
	for i, tex := range frames {
		if got, want := pixel(t, tex), palette[i%len(palette)]; got != want {
			t.Errorf("frame %d is %v, want %v", i, got, want)
		}
	}
}

func TestFrameBudgetSubsamples(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrames = 4
	f := newFixture(t, cfg, nil, nil)
	e := f.load(t, "long", animation(4, 4, 10))

	// Step 3 keeps source frames 0, 3, 6 and 9.
	frames := e.Frames()
	ttesting.AssertEqualInt(t, "frames", len(frames), 4)
	for i, src := range []int{0, 3, 6, 9} {
		ttesting.AssertEqualRGBA(t, "color", pixel(t, frames[i]), palette[src%4])
	}
	var total time.Duration
	for _, d := range e.Delays() {
		total += d
	}
	ttesting.AssertEqualDuration(t, "loop", total, 10*50*time.Millisecond)
}

// A 1024×1024 animation does not fit the budget at full size, so the load
// is retried at the fallback size.
func TestMemoryPressureFallsBack(t *testing.T) {
	budget := membudget.NewBudget(8912896)
	f := newFixture(t, testConfig(), nil, budget)
	e := f.load(t, "big", animation(1024, 1024, 3))

	ttesting.AssertEqualBool(t, "failed", e.Failed(), false)
	frames := e.Frames()
	ttesting.AssertEqualInt(t, "frames", len(frames), 3)
	for i, tex := range frames {
		s := tex.Size()
		ttesting.AssertEqualInt(t, "width", s.X, 512)
		ttesting.AssertEqualInt(t, "height", s.Y, 512)
		ttesting.AssertEqualRGBA(t, "color", pixel(t, tex), palette[i])
	}
	if budget.Failures() == 0 {
		t.Errorf("no allocation failed at full size")
	}
	if budget.Peak() > budget.Limit() {
		t.Errorf("peak %d exceeds limit %d", budget.Peak(), budget.Limit())
	}

	f.reg.Close()
	if n := budget.InUse(); n != 0 {
		t.Errorf("%d bytes still allocated after the load", n)
	}
}

func TestUploadFailureRetries(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackMaxDim = 64
	factory := &softgpu.Factory{MaxPixels: 100 * 100}
	f := newFixture(t, cfg, factory, nil)
	e := f.load(t, "wide", animation(200, 200, 2))

	ttesting.AssertEqualBool(t, "failed", e.Failed(), false)
	frames := e.Frames()
	ttesting.AssertEqualInt(t, "frames", len(frames), 2)
	for _, tex := range frames {
		ttesting.AssertEqualInt(t, "width", tex.Size().X, 64)
	}
	ttesting.AssertEqualInt(t, "live textures", factory.Live(), 2)
}

func TestUploadFailureWithoutFallback(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackMaxDim = 0
	factory := &softgpu.Factory{FailAfter: 2}
	f := newFixture(t, cfg, factory, nil)
	e := f.load(t, "x", animation(8, 8, 5))

	ttesting.AssertEqualBool(t, "failed", e.Failed(), true)
	ttesting.AssertEqualInt(t, "frames", len(e.Frames()), 1)
	ttesting.AssertEqualInt(t, "live textures", factory.Live(), 0)
	ttesting.AssertEqualInt(t, "created", factory.Created(), 2)
}

func TestFormatErrorIsTerminal(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	e := f.load(t, "junk", []byte("definitely not a gif file"))

	ttesting.AssertEqualBool(t, "failed", e.Failed(), true)
	frames := e.Frames()
	if len(frames) != 1 || frames[0] != f.placeholders.Fallback() {
		t.Errorf("frames = %v, want the shared placeholder", frames)
	}
	delays := e.Delays()
	if len(delays) != 1 || delays[0] != anigif.MinDelay {
		t.Errorf("delays = %v, want [%v]", delays, anigif.MinDelay)
	}
	s, _ := f.reg.Status("junk")
	ttesting.AssertEqualBool(t, "status failed", s.State == loader.StateFailed, true)
	ttesting.AssertEqualInt(t, "textures created", f.factory.Created(), 0)
}

func TestCancelKeepsUploadedFrames(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	e, _ := f.reg.Request("c", loader.BytesSource{ID: "c", Data: animation(8, 8, 20)})
	f.runUntil(t, "first upload", func() bool {
		s, _ := f.reg.Status("c")
		return s.Uploaded >= 1
	})
	if !f.reg.Cancel("c") {
		t.Fatalf("Cancel found no job")
	}
	f.runUntil(t, "cancel", e.Loaded)

	ttesting.AssertEqualBool(t, "failed", e.Failed(), false)
	ttesting.AssertInRangeInt(t, "frames", len(e.Frames()), 1, 19)
	ttesting.AssertEqualInt(t, "live textures", f.factory.Live(), len(e.Frames()))
	ttesting.AssertEqualBool(t, "cancel after load", f.reg.Cancel("c"), false)
}

func TestEvict(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	a := f.load(t, "a", animation(4, 4, 2))
	f.clock.Advance(time.Second)
	f.load(t, "b", animation(4, 4, 2))
	f.clock.Advance(time.Second)
	f.load(t, "c", animation(4, 4, 2))
	f.clock.Advance(time.Second)
	f.reg.Lookup("a")

	aFrames := a.Frames()
	ttesting.AssertEqualInt(t, "evicted", f.reg.Evict("", 2), 1)
	if keys := f.reg.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("keys = %v, want [a c]", keys)
	}
	ttesting.AssertEqualInt(t, "live textures", f.factory.Live(), 4)

	ttesting.AssertEqualInt(t, "evicted", f.reg.Evict("a", 1), 1)
	for _, tex := range aFrames {
		ttesting.AssertEqualBool(t, "kept texture disposed", tex.(*softgpu.Texture).Disposed(), false)
	}
	ttesting.AssertEqualInt(t, "evicted", f.reg.Evict("a", 1), 0)

	// Loading keys stay.
	f.reg.Request("d", loader.BytesSource{ID: "d", Data: animation(4, 4, 2)})
	ttesting.AssertEqualInt(t, "evicted", f.reg.Evict("", 0), 1)
	if keys := f.reg.Keys(); len(keys) != 1 || keys[0] != "d" {
		t.Errorf("keys = %v, want [d]", keys)
	}
	for _, tex := range aFrames {
		ttesting.AssertEqualBool(t, "evicted texture disposed", tex.(*softgpu.Texture).Disposed(), true)
	}
	if frames := a.Frames(); len(frames) != 1 || frames[0] != f.placeholders.Fallback() {
		t.Errorf("evicted entry holds %v", frames)
	}
}

func TestRequestAfterClose(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.reg.Close()
	if _, err := f.reg.Request("z", loader.BytesSource{ID: "z", Data: animation(4, 4, 1)}); err != loader.ErrClosed {
		t.Errorf("Request after Close = %v, want ErrClosed", err)
	}
}
