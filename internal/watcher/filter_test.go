package watcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathFilterNilAllowsEverything(t *testing.T) {
	var f *PathFilter
	assert.True(t, f.Allow("/anything/at/all"))
}

func TestPathFilterExcludeBlocksPrefix(t *testing.T) {
	root := "/data/root"
	f := NewPathFilter(root, []string{"tmp"}, nil)
	assert.False(t, f.Allow(filepath.Join(root, "tmp", "a.bin")))
	assert.True(t, f.Allow(filepath.Join(root, "keep", "a.bin")))
}

func TestPathFilterExcludeDoesNotMatchSiblingWithSamePrefix(t *testing.T) {
	root := "/data/root"
	f := NewPathFilter(root, []string{"tmp"}, nil)
	// "tmp2" shares a string prefix with "tmp" but is a different segment.
	assert.True(t, f.Allow(filepath.Join(root, "tmp2", "a.bin")))
}

func TestPathFilterIncludeRestrictsToListedPrefixes(t *testing.T) {
	root := "/data/root"
	f := NewPathFilter(root, nil, []string{"important"})
	assert.True(t, f.Allow(filepath.Join(root, "important", "a.bin")))
	assert.False(t, f.Allow(filepath.Join(root, "other", "a.bin")))
}

func TestPathFilterExcludeWinsOverInclude(t *testing.T) {
	root := "/data/root"
	f := NewPathFilter(root, []string{"important/scratch"}, []string{"important"})
	assert.True(t, f.Allow(filepath.Join(root, "important", "a.bin")))
	assert.False(t, f.Allow(filepath.Join(root, "important", "scratch", "a.bin")))
}
