package paths

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var (
	cache     map[string][]byte
	cacheLock sync.Mutex
)

// HTTPSource is a loader.Source fetching a URL. Successful responses are
// cached for the lifetime of the process.
type HTTPSource struct {
	URL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func (s HTTPSource) Name() string {
	return s.URL
}

func (s HTTPSource) Open() (io.ReadCloser, error) {
	cacheLock.Lock()
	buf, ok := cache[s.URL]
	cacheLock.Unlock()
	if ok {
		glog.V(2).Infof("paths: %s: cached", s.URL)
		return io.NopCloser(bytes.NewReader(buf)), nil
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Get(s.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "paths: fetching %s", s.URL)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		e := os.ErrInvalid
		if response.StatusCode == http.StatusNotFound {
			e = os.ErrNotExist
		}
		return nil, errors.Wrapf(e, "paths: fetching %s: http response.StatusCode=%v, want 200", s.URL, response.StatusCode)
	}

	buf, err = io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "paths: reading %s", s.URL)
	}

	cacheLock.Lock()
	if cache == nil {
		cache = make(map[string][]byte)
	}
	cache[s.URL] = buf
	cacheLock.Unlock()
	glog.V(1).Infof("paths: %s: fetched %d bytes", s.URL, len(buf))
	return io.NopCloser(bytes.NewReader(buf)), nil
}
