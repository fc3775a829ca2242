// Package web serves decoded animations over HTTP.
package web

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"image"
	"image/gif"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/vincent-petithory/dataurl"

	"badc0de.net/pkg/go-animgif/imageprint"
	"badc0de.net/pkg/go-animgif/loader"
)

// Opener resolves a key to a source.
type Opener func(key string) (loader.Source, error)

// Lister returns the keys that can be requested.
type Lister func() ([]string, error)

// imager is implemented by textures whose pixels can be read back.
type imager interface {
	Image() *image.RGBA
}

type Handler struct {
	reg    *loader.Registry
	render loader.RenderThread
	open   Opener
	list   Lister

	// ThumbnailSize bounds the index page thumbnails.
	ThumbnailSize uint
	// LoadTimeout bounds how long a request waits for a load to finish.
	LoadTimeout time.Duration
}

// NewHandler constructs a web handler serving the animations in reg. Texture
// pixels are read on render, which must be the registry's render thread.
func NewHandler(reg *loader.Registry, render loader.RenderThread, open Opener, list Lister) *Handler {
	return &Handler{
		reg:           reg,
		render:        render,
		open:          open,
		list:          list,
		ThumbnailSize: 96,
		LoadTimeout:   30 * time.Second,
	}
}

// Register adds the handler's routes to r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/", h.indexHandler).Methods(http.MethodGet)
	r.HandleFunc("/gif/{key:.+}/frames/{idx:[0-9]+}.png", h.frameHandler).Methods(http.MethodGet)
	r.HandleFunc("/gif/{key:.+}/status", h.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/gif/{key:.+}/cancel", h.cancelHandler).Methods(http.MethodPost)
	r.HandleFunc("/gif/{key:.+}.png", h.currentHandler).Methods(http.MethodGet)
	r.HandleFunc("/gif/{key:.+}.gif", h.animationHandler).Methods(http.MethodGet)
}

// onRender runs f on the render thread and waits for it.
func (h *Handler) onRender(ctx context.Context, f func()) error {
	done := make(chan struct{})
	h.render.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot copies the pixels of textures on the render thread.
func (h *Handler) snapshot(ctx context.Context, textures ...loader.Texture) ([]*image.RGBA, error) {
	imgs := make([]*image.RGBA, len(textures))
	var err error
	rerr := h.onRender(ctx, func() {
		for i, t := range textures {
			src, ok := t.(imager)
			if !ok {
				err = errors.Errorf("web: texture %T cannot be read back", t)
				return
			}
			img := image.NewRGBA(src.Image().Rect)
			copy(img.Pix, src.Image().Pix)
			imgs[i] = img
		}
	})
	if rerr != nil {
		return nil, rerr
	}
	return imgs, err
}

// entry requests key and, if wait is set, waits for it to load.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request, wait bool) (*loader.Entry, bool) {
	key := mux.Vars(r)["key"]
	e, ok := h.reg.Lookup(key)
	if !ok {
		src, err := h.open(key)
		if err != nil {
			glog.V(1).Infof("web: %s: %v", key, err)
			http.Error(w, "not found", http.StatusNotFound)
			return nil, false
		}
		if e, err = h.reg.Request(key, src); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return nil, false
		}
		h.onRender(r.Context(), func() { h.reg.Trim(key) })
	}
	if !wait {
		return e, true
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.LoadTimeout)
	defer cancel()
	select {
	case <-e.Done():
		return e, true
	case <-ctx.Done():
		http.Error(w, "still loading", http.StatusGatewayTimeout)
		return nil, false
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) currentHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r, r.URL.Query().Get("wait") != "")
	if !ok {
		return
	}
	tex, _ := e.FrameAt(time.Now())
	imgs, err := h.snapshot(r.Context(), tex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writePNG(w, imgs[0])
}

func (h *Handler) frameHandler(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["idx"])
	if err != nil {
		http.Error(w, "idx not a number", http.StatusBadRequest)
		return
	}
	e, ok := h.entry(w, r, true)
	if !ok {
		return
	}
	frames := e.Frames()
	if idx >= len(frames) {
		http.Error(w, "no such frame", http.StatusNotFound)
		return
	}

	generation := 1 // bump if the way we generate it changes
	size := frames[idx].Size()
	etag := fmt.Sprintf(`W/"frame:%d:%s:%d/%d:%dx%d:%v"`, generation, e.Key(), idx, len(frames), size.X, size.Y, e.Failed())
	w.Header().Set("Cache-Control", "public; max-age=3600")
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	imgs, err := h.snapshot(r.Context(), frames[idx])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writePNG(w, imgs[0])
}

// animationHandler re-encodes the loaded frames as a GIF.
func (h *Handler) animationHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r, true)
	if !ok {
		return
	}
	imgs, err := h.snapshot(r.Context(), e.Frames()...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	delays := e.Delays()

	g := &gif.GIF{}
	for i, img := range imgs {
		// Up to 255 colors plus 1 space for transparency.
		g.Image = append(g.Image, imageprint.Quantize(img, 255))
		cs := 2
		if i < len(delays) {
			cs = int(delays[i] / (10 * time.Millisecond))
		}
		g.Delay = append(g.Delay, cs)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}

	buf := &bytes.Buffer{}
	if err := gif.EncodeAll(buf, g); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "public; max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	s, ok := h.reg.Status(key)
	if !ok {
		http.Error(w, "not loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, s)
}

func (h *Handler) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if !h.reg.Cancel(mux.Vars(r)["key"]) {
		http.Error(w, "not loading", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>animations</title></head><body>
<ul>
{{range .}}<li><a href="/gif/{{.Key}}.gif">{{if .Thumb}}<img src="{{.Thumb}}" alt="">{{end}}{{.Key}}</a> {{.State}}</li>
{{end}}</ul>
</body></html>
`))

type indexItem struct {
	Key   string
	Thumb template.URL
	State string
}

// indexHandler lists known animations, with thumbnails of the loaded ones.
func (h *Handler) indexHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := h.list()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var items []indexItem
	for _, k := range keys {
		it := indexItem{Key: k, State: "not loaded"}
		if s, ok := h.reg.Status(k); ok {
			it.State = s.State.String()
		}
		if e, ok := h.reg.Lookup(k); ok && e.Loaded() && !e.Failed() {
			if imgs, err := h.snapshot(r.Context(), e.Frames()[0]); err == nil {
				thumb := resize.Thumbnail(h.ThumbnailSize, h.ThumbnailSize, imgs[0], resize.NearestNeighbor)
				buf := &bytes.Buffer{}
				if err := png.Encode(buf, thumb); err == nil {
					it.Thumb = template.URL(dataurl.New(buf.Bytes(), "image/png").String())
				}
			}
		}
		items = append(items, it)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, items); err != nil {
		glog.Errorf("web: index: %v", err)
	}
}
