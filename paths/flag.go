package paths

import (
	"flag"
	"path/filepath"
	"strings"
)

type rootsValue struct{}

func (rootsValue) String() string {
	return strings.Join(Roots(), string(filepath.ListSeparator))
}

func (rootsValue) Set(s string) error {
	var dirs []string
	for _, d := range filepath.SplitList(s) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	SetRoots(dirs...)
	return nil
}

// SetupRootsFlag registers a flag with the passed name which sets the search
// roots, separated like $PATH entries.
func SetupRootsFlag(fs *flag.FlagSet, flagName string) {
	fs.Var(rootsValue{}, flagName, "Directories searched for animations, separated by '"+string(filepath.ListSeparator)+"'")
}
