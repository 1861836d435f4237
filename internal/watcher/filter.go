package watcher

import (
	"path/filepath"
	"strings"
)

// PathFilter decides whether a path beneath one watched root is admitted
// to the change-event stream, a supplementary feature per spec.md §4.5.
// Grounded on latentloop-latentfs/internal/daemon/filter.go's
// BuildFileFilter: excludes are checked first and take precedence over
// includes, both matched as path prefixes relative to the root. Unlike
// that source, no gitignore-pattern grammar is layered on top — rs_guard
// watches arbitrary data directories, not source trees, so prefix
// matching alone covers the realistic case.
type PathFilter struct {
	root     string
	excludes []string
	includes []string
}

// NewPathFilter builds a filter scoped to root. excludes and includes are
// slash-separated path prefixes relative to root (e.g. "tmp",
// "cache/build"). A nil-valued *PathFilter (the zero value returned by a
// missing map entry) allows everything.
func NewPathFilter(root string, excludes, includes []string) *PathFilter {
	if len(excludes) == 0 && len(includes) == 0 {
		return nil
	}
	return &PathFilter{root: root, excludes: excludes, includes: includes}
}

// Allow reports whether path should be admitted. Excludes win over
// includes; an empty includes list means "everything not excluded".
func (f *PathFilter) Allow(path string) bool {
	if f == nil {
		return true
	}
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)

	for _, ex := range f.excludes {
		if hasPrefixSegment(rel, ex) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, in := range f.includes {
		if hasPrefixSegment(rel, in) {
			return true
		}
	}
	return false
}

// hasPrefixSegment reports whether rel is prefix, or lies beneath it as
// a whole path segment (so "tmp" does not also match "tmp2").
func hasPrefixSegment(rel, prefix string) bool {
	prefix = strings.Trim(filepath.ToSlash(prefix), "/")
	if prefix == "" {
		return false
	}
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}
