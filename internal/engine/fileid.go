package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

// FileID derives the stable identifier for a canonicalized absolute path
// (spec.md §3's FileId: "derived from its absolute path under a watched
// root"). Renaming a file changes its canonical path and therefore its
// FileID. There is no metadata-only path update: the watcher reports the
// old path as a Delete, and the new path is protected as a new file when
// its own Create event or a rescan reaches the engine.
func FileID(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])
}

// resolve canonicalizes path and returns its FileID, or
// rserrors.ErrNotWatched if it falls outside every root.
func resolve(roots []string, path string) (canon, fileID string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	abs = filepath.Clean(abs)
	for _, root := range roots {
		if isUnderRoot(root, abs) {
			return abs, FileID(abs), nil
		}
	}
	return "", "", rserrors.ErrNotWatched
}

func isUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
