// Command gifprint decodes an animated GIF and plays it on the terminal.
package main

import (
	"context"
	"flag"
	"image"
	"os"
	"os/signal"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"badc0de.net/pkg/go-animgif/imageprint"
	"badc0de.net/pkg/go-animgif/loader"
	"badc0de.net/pkg/go-animgif/membudget"
	"badc0de.net/pkg/go-animgif/paths"
	"badc0de.net/pkg/go-animgif/softgpu"
)

var (
	gifName  = flag.String("gif", "", "animation to print; a path, or a key looked up in -gif_root")
	gifURL   = flag.String("url", "", "animation to fetch and print instead of -gif")
	col      = flag.Bool("col", true, "whether to use color at all")
	col256   = flag.Bool("col256", false, "whether to use 256 col instead of 24 bit")
	iterm    = flag.Bool("iterm", false, "whether to print with iterm escape code instead of 24 bit")
	rasterm  = flag.Bool("rasterm", false, "whether to print with kitty, iterm or sixel graphics")
	blanks   = flag.Bool("blanks", true, "whether to just use colored blanks instead of some bad ascii art")
	downsize = flag.Bool("downsize", true, "whether to fit frames to the terminal")
	loops    = flag.Int("loops", 1, "times to play the animation; 0 plays until interrupted")
	syncLoad = flag.Bool("sync", false, "whether to decode and upload in one blocking call")
	memLimit = flag.Int64("mem_limit", 0, "bytes available for decoding; 0 for no limit")

	cfg = loader.DefaultConfig()
)

func init() {
	cfg.RegisterFlags(flag.CommandLine)
	paths.SetupRootsFlag(flag.CommandLine, "gif_root")
}

func source() (loader.Source, error) {
	if *gifURL != "" {
		return paths.HTTPSource{URL: *gifURL}, nil
	}
	if st, err := os.Stat(*gifName); err == nil && st.Mode().IsRegular() {
		return loader.FileSource(*gifName), nil
	}
	return paths.Open(*gifName)
}

// load decodes src through a registry whose render thread is a softgpu
// loop ticking on this goroutine.
func load(ctx context.Context, src loader.Source, alloc membudget.Allocator) ([]loader.Texture, []time.Duration, error) {
	loop := softgpu.NewLoop()
	reg, err := loader.NewRegistry(cfg, loader.Options{
		Factory:      &softgpu.Factory{},
		Render:       loop,
		Placeholders: &softgpu.Placeholders{},
		Alloc:        alloc,
	})
	if err != nil {
		return nil, nil, err
	}
	defer reg.Close()

	e, err := reg.Request(src.Name(), src)
	if err != nil {
		return nil, nil, err
	}
	lastLog := time.Now()
	err = loop.RunUntil(ctx, 10*time.Millisecond, func() bool {
		if time.Since(lastLog) > time.Second {
			reg.LogStatus(src.Name())
			lastLog = time.Now()
		}
		return e.Loaded()
	})
	if err != nil {
		reg.Cancel(src.Name())
		return nil, nil, err
	}
	return e.Frames(), e.Delays(), nil
}

func main() {
	flagutil.Parse()
	flag.Set("logtostderr", "true")

	if *gifName == "" && *gifURL == "" {
		glog.Exitf("pass -gif or -url")
	}
	src, err := source()
	if err != nil {
		glog.Exitf("%v", err)
	}

	var alloc membudget.Allocator = membudget.Unlimited
	if *memLimit > 0 {
		alloc = membudget.NewBudget(*memLimit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		textures []loader.Texture
		delays   []time.Duration
	)
	if *syncLoad {
		textures, delays, err = loader.LoadSync(ctx, src, &softgpu.Factory{}, alloc, cfg)
	} else {
		textures, delays, err = load(ctx, src, alloc)
	}
	if err != nil {
		glog.Exitf("loading %s: %v", src.Name(), err)
	}

	// Fitting frames to the terminal is independent per frame.
	frames := make([]image.Image, len(textures))
	g, _ := errgroup.WithContext(ctx)
	for i, tex := range textures {
		i, img := i, tex.(*softgpu.Texture).Image()
		g.Go(func() error {
			frames[i] = fit(img)
			return nil
		})
	}
	g.Wait()

	p := &imageprint.Printer{Out: os.Stdout, Mode: mode(), Blanks: *blanks}
	if err := p.Play(ctx, frames, delays, *loops); err != nil && err != context.Canceled {
		glog.Exitf("playing: %v", err)
	}
}
