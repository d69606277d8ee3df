package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultInclude matches the image formats the reader decodes.
var DefaultInclude = []string{"*.jpg", "*.jpeg", "*.png", "*.bmp"}

// DiscoverOptions controls how directory arguments are expanded.
type DiscoverOptions struct {
	Recursive bool
	Include   []string // base-name globs; empty selects DefaultInclude
	Exclude   []string
}

// Discover expands args into image paths. Files named explicitly are kept
// unless excluded; directories are walked and filtered by the include globs.
// Order follows args, and within a directory the lexical walk order.
func Discover(args []string, opts DiscoverOptions) ([]string, error) {
	include := opts.Include
	if len(include) == 0 {
		include = DefaultInclude
	}

	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !matchesAny(arg, opts.Exclude) {
				out = append(out, arg)
			}
			continue
		}
		files, err := walk(arg, opts.Recursive, include, opts.Exclude)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func walk(dir string, recursive bool, include, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(path, include) && !matchesAny(path, exclude) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// matchesAny matches the base name case-insensitively against the globs.
func matchesAny(path string, patterns []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), base); ok {
			return true
		}
	}
	return false
}
