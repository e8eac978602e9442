package pipeline

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which scanned entries are left out of a comparison. Names
// and extensions match case-insensitively on the last path element;
// exclusions are doublestar globs over the slash-separated relative path.
type Filter struct {
	names      map[string]struct{}
	extensions map[string]struct{}
	exclusions []string
}

func NewFilter(ignoredNames, ignoredExtensions, exclusions []string) *Filter {
	f := &Filter{
		names:      make(map[string]struct{}, len(ignoredNames)),
		extensions: make(map[string]struct{}, len(ignoredExtensions)),
	}

	for _, n := range ignoredNames {
		if n = strings.TrimSpace(n); n != "" {
			f.names[strings.ToLower(n)] = struct{}{}
		}
	}
	for _, ext := range ignoredExtensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			f.extensions[strings.ToLower(ext)] = struct{}{}
		}
	}
	for _, pattern := range exclusions {
		if pattern = strings.Trim(strings.TrimSpace(pattern), "/"); pattern != "" {
			f.exclusions = append(f.exclusions, pattern)
		}
	}

	return f
}

// Ignore reports whether relPath should be skipped. A skipped directory is
// skipped with everything below it.
func (f *Filter) Ignore(relPath string, isDir bool) bool {
	if f == nil {
		return false
	}

	name := strings.ToLower(path.Base(relPath))
	if _, ok := f.names[name]; ok {
		return true
	}

	if !isDir {
		if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
			if _, ok := f.extensions[ext]; ok {
				return true
			}
		}
	}

	for _, pattern := range f.exclusions {
		matched, err := doublestar.Match(pattern, relPath)
		if err == nil && matched {
			return true
		}
	}

	return false
}
