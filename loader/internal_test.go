package loader

import (
	"context"
	"flag"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/anigif"
	"badc0de.net/pkg/go-animgif/ttesting"
)

type stubTexture struct {
	id       int
	disposed bool
}

func (t *stubTexture) Size() image.Point { return image.Pt(1, 1) }
func (t *stubTexture) Dispose()          { t.disposed = true }

func TestWorkerRunsInOrder(t *testing.T) {
	w := NewWorker()
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		if i == 50 {
			w.Submit(func() { panic("boom") })
		}
		if err := w.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	w.Close()

	ttesting.AssertEqualInt(t, "tasks run", len(got), 100)
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
	ttesting.AssertEqualInt(t, "pending", w.Pending(), 0)
	if err := w.Submit(func() {}); errors.Cause(err) != ErrClosed {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestTargetSize(t *testing.T) {
	for _, tc := range []struct {
		w, h, max int
		want      image.Point
	}{
		{100, 100, 1024, image.Pt(100, 100)},
		{1024, 1024, 1024, image.Pt(1024, 1024)},
		{2048, 1024, 1024, image.Pt(1024, 512)},
		{1024, 2048, 512, image.Pt(256, 512)},
		{1000, 3, 100, image.Pt(100, 1)},
		{5000, 1, 10, image.Pt(10, 1)},
		{333, 1000, 512, image.Pt(170, 512)},
		{4000, 3000, 0, image.Pt(4000, 3000)},
	} {
		if got := TargetSize(tc.w, tc.h, tc.max); got != tc.want {
			t.Errorf("TargetSize(%d, %d, %d) = %v, want %v", tc.w, tc.h, tc.max, got, tc.want)
		}
	}
}

func TestDownsample(t *testing.T) {
	quad := []color.RGBA{
		{255, 0, 0, 255}, {0, 255, 0, 255},
		{0, 0, 255, 255}, {255, 255, 255, 255},
	}
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, quad[(y/2)*2+x/2])
		}
	}

	dst := make([]byte, 4*2*2)
	downsample(dst, src, 2, 2)
	for i, want := range quad {
		got := color.RGBA{dst[4*i], dst[4*i+1], dst[4*i+2], dst[4*i+3]}
		ttesting.AssertEqualRGBA(t, "pixel", got, want)
	}

	same := make([]byte, len(src.Pix))
	downsample(same, src, 4, 4)
	for i := range same {
		if same[i] != src.Pix[i] {
			t.Fatalf("identity downsample differs at byte %d", i)
		}
	}
}

func TestEntryFrameAt(t *testing.T) {
	start := time.Unix(1000, 0)
	placeholder := &stubTexture{id: -1}
	e := newEntry("k", placeholder, start)

	if tex, i := e.FrameAt(start.Add(time.Hour)); tex != placeholder || i != 0 {
		t.Errorf("FrameAt on a loading entry = %v, %d; want placeholder", tex, i)
	}

	a, b, c := &stubTexture{id: 0}, &stubTexture{id: 1}, &stubTexture{id: 2}
	e.appendFrame(a, 100*time.Millisecond, true)
	if got := e.Frames(); len(got) != 1 || got[0] != a {
		t.Fatalf("first frame did not replace the placeholder: %v", got)
	}
	e.appendFrame(b, 150*time.Millisecond, false)
	e.appendFrame(c, 5*time.Millisecond, false)
	e.commit(e.Frames(), e.Delays(), false, start)

	for _, tc := range []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{99 * time.Millisecond, 0},
		{100 * time.Millisecond, 1},
		{249 * time.Millisecond, 1},
		// The last delay is clamped to the minimum.
		{250 * time.Millisecond, 2},
		{269 * time.Millisecond, 2},
		{270 * time.Millisecond, 0},
		{270*time.Millisecond + 120*time.Millisecond, 1},
		{-time.Second, 0},
	} {
		_, i := e.FrameAt(start.Add(tc.at))
		ttesting.AssertEqualInt(t, tc.at.String(), i, tc.want)
	}
	if !e.Loaded() || e.Failed() {
		t.Errorf("Loaded, Failed = %v, %v; want true, false", e.Loaded(), e.Failed())
	}
	ttesting.AssertEqualBool(t, "placeholder disposed by entry", placeholder.disposed, false)
}

func TestEntryWithoutDelays(t *testing.T) {
	start := time.Unix(0, 0)
	e := newEntry("k", &stubTexture{}, start)
	e.replaceFrames([]Texture{&stubTexture{id: 0}, &stubTexture{id: 1}}, nil)
	_, i := e.FrameAt(start.Add(defaultFrameDelay + time.Millisecond))
	ttesting.AssertEqualInt(t, "frame", i, 1)
	ttesting.AssertEqualDuration(t, "clamp", clampDelay(0), anigif.MinDelay)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	ttesting.AssertEqualInt(t, "pool for large frames", cfg.poolSize(1024*1024), 1)
	ttesting.AssertEqualInt(t, "pool for small frames", cfg.poolSize(512*512), cfg.QueueCapacity)
	ttesting.AssertEqualDuration(t, "interval for large frames", cfg.uploadInterval(600000), 33*time.Millisecond)
	ttesting.AssertEqualDuration(t, "interval for small frames", cfg.uploadInterval(599999), 15*time.Millisecond)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"-max_frames=12", "-max_dim=256", "-upload_interval=5ms", "-throttle_decode=false"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ttesting.AssertEqualInt(t, "max frames", cfg.MaxFrames, 12)
	ttesting.AssertEqualInt(t, "max dim", cfg.PreferredMaxDim, 256)
	ttesting.AssertEqualDuration(t, "upload interval", cfg.UploadIntervalSmall, 5*time.Millisecond)
	ttesting.AssertEqualBool(t, "throttle", cfg.ThrottleDecode, false)

	for _, mutate := range []func(*Config){
		func(c *Config) { c.MaxFrames = 0 },
		func(c *Config) { c.QueueCapacity = 0 },
		func(c *Config) { c.UploadBatch = 0 },
		func(c *Config) { c.FallbackMaxDim = -1 },
		func(c *Config) { c.UploadIntervalLarge = -time.Millisecond },
		func(c *Config) { c.MaxCacheEntries = 0 },
	} {
		c := DefaultConfig()
		mutate(&c)
		if c.Validate() == nil {
			t.Errorf("Validate(%+v) = nil, want error", c)
		}
	}
}

func TestJobEventsDropAfterFinish(t *testing.T) {
	ev := newJobEvents("events.gif")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				ev.Printf("writer %d line %d", i, n)
				ev.Errorf("writer %d error %d", i, n)
			}
		}(i)
	}
	ev.Finish()
	wg.Wait()

	ev.mu.Lock()
	finished := ev.finished
	ev.mu.Unlock()
	if !finished {
		t.Fatal("events not marked finished")
	}
	ev.Finish()
	ev.Printf("after finish")
}

func TestAttemptSummaryLoggedOnRetire(t *testing.T) {
	j := &Job{events: newJobEvents("summary.gif")}
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{job: j, n: 1, ctx: ctx, cancel: cancel, queue: make(chan *FrameUnit, 1)}
	a.refs.Store(1)
	a.summary.Store("decoded 3/3 frames at (8,8)")
	j.retire(a)
	if ctx.Err() == nil {
		t.Error("retire left the attempt context running")
	}
	j.events.Finish()
}
