package loader_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/anigif"
	"badc0de.net/pkg/go-animgif/loader"
	"badc0de.net/pkg/go-animgif/membudget"
	"badc0de.net/pkg/go-animgif/softgpu"
	"badc0de.net/pkg/go-animgif/ttesting"
)

func TestLoadSync(t *testing.T) {
	factory := &softgpu.Factory{}
	textures, delays, err := loader.LoadSync(context.Background(), loader.BytesSource{ID: "s", Data: animation(10, 20, 3)}, factory, nil, testConfig())
	if err != nil {
		t.Fatalf("LoadSync: %v", err)
	}
	ttesting.AssertEqualInt(t, "textures", len(textures), 3)
	ttesting.AssertEqualInt(t, "delays", len(delays), 3)
	for i, tex := range textures {
		ttesting.AssertEqualRGBA(t, "color", pixel(t, tex), palette[i])
	}
}

func TestLoadSyncFallsBack(t *testing.T) {
	budget := membudget.NewBudget(8912896)
	textures, _, err := loader.LoadSync(context.Background(), loader.BytesSource{ID: "big", Data: animation(1024, 1024, 2)}, &softgpu.Factory{MaxPixels: 600 * 600}, budget, testConfig())
	if err != nil {
		t.Fatalf("LoadSync: %v", err)
	}
	for _, tex := range textures {
		ttesting.AssertEqualInt(t, "width", tex.Size().X, 512)
	}
	ttesting.AssertEqualInt(t, "bytes in use", int(budget.InUse()), 0)
}

func TestLoadSyncErrors(t *testing.T) {
	factory := &softgpu.Factory{}
	_, _, err := loader.LoadSync(context.Background(), loader.BytesSource{ID: "junk", Data: []byte("GIF00a and then some junk")}, factory, nil, testConfig())
	if errors.Cause(err) != anigif.ErrFormat {
		t.Errorf("LoadSync(junk) = %v, want ErrFormat", err)
	}

	factory = &softgpu.Factory{FailAfter: 1}
	cfg := testConfig()
	cfg.FallbackMaxDim = 0
	_, _, err = loader.LoadSync(context.Background(), loader.BytesSource{ID: "x", Data: animation(4, 4, 3)}, factory, nil, cfg)
	if errors.Cause(err) != softgpu.ErrRejected {
		t.Errorf("LoadSync = %v, want ErrRejected", err)
	}
	ttesting.AssertEqualInt(t, "live textures", factory.Live(), 0)
}
