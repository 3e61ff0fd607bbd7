package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoIncludes is returned when an import has no include patterns.
var ErrNoIncludes = errors.New("at least one include pattern is required")

// ImportConfig selects local files for bulk upload.
type ImportConfig struct {
	// Root is the directory patterns are evaluated against.
	Root string

	// Includes are doublestar patterns relative to Root, e.g. "**/*.jpg".
	Includes []string

	// Excludes drop any file they match.
	Excludes []string

	// IncludeHidden keeps files with a path segment starting with '.'.
	IncludeHidden bool
}

// ImportCandidate is one matched file.
type ImportCandidate struct {
	// Path is relative to the import root, slash separated.
	Path string
	Kind Kind
	Size int64
}

// FindImportCandidates lists supported media files under cfg.Root that
// match the include patterns and none of the exclude patterns. Results are
// sorted by path so uploads, and therefore ad numbering, are deterministic.
func FindImportCandidates(cfg ImportConfig) ([]ImportCandidate, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	for _, p := range append(append([]string{}, cfg.Includes...), cfg.Excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern: %s", p)
		}
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("import root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import root is not a directory: %s", cfg.Root)
	}

	fsys := os.DirFS(cfg.Root)
	seen := make(map[string]bool)
	var out []ImportCandidate

	for _, inc := range cfg.Includes {
		matches, err := doublestar.Glob(fsys, inc)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", inc, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true

			if !cfg.IncludeHidden && isHidden(m) {
				continue
			}
			if excluded(m, cfg.Excludes) {
				continue
			}
			fi, err := fs.Stat(fsys, m)
			if err != nil || fi.IsDir() {
				continue
			}
			kind, _, err := Classify(m, "")
			if err != nil {
				continue
			}
			out = append(out, ImportCandidate{Path: m, Kind: kind, Size: fi.Size()})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	for _, seg := range strings.Split(path.Clean(name), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}
