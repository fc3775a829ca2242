// Package paths locates animations on disk and over HTTP.
package paths

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/loader"
)

// ErrBadKey is returned for empty keys.
var ErrBadKey = errors.New("paths: bad key")

var (
	rootsLock sync.RWMutex
	roots     = []string{"."}
)

// Roots returns the directories searched by Find, in order.
func Roots() []string {
	rootsLock.RLock()
	defer rootsLock.RUnlock()
	return append([]string(nil), roots...)
}

// SetRoots replaces the directories searched by Find.
func SetRoots(dirs ...string) {
	rootsLock.Lock()
	roots = append([]string(nil), dirs...)
	rootsLock.Unlock()
}

// Key normalizes a resource name into a cache key: a clean, relative,
// slash-separated path which cannot climb out of a search root.
//
// For example, "/cats//nyan.gif" becomes "cats/nyan.gif".
func Key(name string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" {
		return "", errors.Wrapf(ErrBadKey, "%q", name)
	}
	return k, nil
}

// Find locates the passed resource name in the search roots and returns a
// path to the file, or an empty string. Names without an extension also
// match files with a .gif extension.
func Find(name string) string {
	key, err := Key(name)
	if err != nil {
		return ""
	}
	candidates := []string{key}
	if path.Ext(key) == "" {
		candidates = append(candidates, key+".gif")
	}
	for _, root := range Roots() {
		for _, c := range candidates {
			p := filepath.Join(root, filepath.FromSlash(c))
			if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
				glog.V(1).Infof("paths.Find(%q)=%s", name, p)
				return p
			}
		}
	}
	return ""
}

// Open locates the passed resource in the same locations that Find would
// look, and returns a source for it.
func Open(name string) (loader.Source, error) {
	p := Find(name)
	if p == "" {
		return nil, errors.Wrapf(os.ErrNotExist, "paths.Open(%q)", name)
	}
	return loader.FileSource(p), nil
}

// List returns the keys of all .gif files under the search roots, sorted.
// A key found under several roots is listed once.
func List() ([]string, error) {
	seen := make(map[string]bool)
	for _, root := range Roots() {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".gif") {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			seen[filepath.ToSlash(rel)] = true
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", root)
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
