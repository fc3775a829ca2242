// Command gifweb serves animations found under -gif_root over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/common-nighthawk/go-figure"
	"github.com/golang/glog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	_ "golang.org/x/net/trace"

	"badc0de.net/pkg/go-animgif/loader"
	"badc0de.net/pkg/go-animgif/membudget"
	"badc0de.net/pkg/go-animgif/paths"
	"badc0de.net/pkg/go-animgif/softgpu"
	"badc0de.net/pkg/go-animgif/web"
)

var (
	listenAddress  = flag.String("listen_address", ":8080", "http listen address for gifweb")
	debugWebServer = flag.String("debug_web_server_listen_address", "", "where the debug server (including /debug/events) will listen")
	memLimit       = flag.Int64("mem_limit", 64<<20, "bytes available for decoding; 0 for no limit")
	frameInterval  = flag.Duration("frame_interval", 16*time.Millisecond, "render loop tick interval")
	banner         = flag.Bool("banner", true, "whether to print a banner on startup")

	cfg = loader.DefaultConfig()
)

func init() {
	cfg.RegisterFlags(flag.CommandLine)
	paths.SetupRootsFlag(flag.CommandLine, "gif_root")
}

func main() {
	flagutil.Parse()

	if *banner {
		figure.NewFigure("gifweb", "", true).Print()
	}

	var alloc membudget.Allocator = membudget.Unlimited
	var budget *membudget.Budget
	if *memLimit > 0 {
		budget = membudget.NewBudget(*memLimit)
		alloc = budget
	}

	loop := softgpu.NewLoop()
	go loop.Run(context.Background(), *frameInterval)

	reg, err := loader.NewRegistry(cfg, loader.Options{
		Factory:      &softgpu.Factory{},
		Render:       loop,
		Placeholders: &softgpu.Placeholders{},
		Alloc:        alloc,
	})
	if err != nil {
		glog.Exitf("%v", err)
	}
	defer reg.Close()

	open := func(key string) (loader.Source, error) {
		k, err := paths.Key(key)
		if err != nil {
			return nil, err
		}
		return paths.Open(k)
	}

	r := mux.NewRouter()
	web.NewHandler(reg, loop, open, paths.List).Register(r)

	if *debugWebServer != "" {
		// x/net/trace registers /debug/requests and /debug/events on the default mux.
		http.HandleFunc("/debug/minimetrics", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "runtime.NumGoroutine(): %d\n", runtime.NumGoroutine())
			fmt.Fprintf(w, "loader.InFlight(): %d\n", reg.InFlight())
			fmt.Fprintf(w, "loader.JobsStarted(): %d\n", reg.JobsStarted())
			fmt.Fprintf(w, "loader.Keys(): %q\n", reg.Keys())
			if budget != nil {
				fmt.Fprintf(w, "membudget: in use %d, peak %d, limit %d, failures %d\n", budget.InUse(), budget.Peak(), budget.Limit(), budget.Failures())
			}
		})
		go func() {
			glog.Errorf("debug server: %v", http.ListenAndServe(*debugWebServer, nil))
		}()
	}

	glog.Infof("gifweb listening on %s, serving %q", *listenAddress, paths.Roots())
	glog.Fatal(http.ListenAndServe(*listenAddress, handlers.LoggingHandler(os.Stderr, r)))
}
