// Package watcher implements C5: a debounced, lossy stream of filesystem
// change events scoped to a set of watched roots, built on
// github.com/fsnotify/fsnotify. Grounded on the teacher's background
// worker idiom (internal/server/workers.go: a goroutine looping on
// select{ctx.Done(), time.After(...)}, logging via the stdlib log
// package) generalized from a fixed-period ticker to an fsnotify event
// pump with its own debounce timer. Per-root include/exclude filtering
// (PathFilter, in filter.go) is a supplementary feature grounded on
// latentloop-latentfs/internal/daemon/filter.go's BuildFileFilter.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a change event, per spec.md §4.5.
type EventKind int

const (
	Create EventKind = iota
	Modify
	Delete
	Rename
	// Overflow signals that the bounded event channel dropped events for
	// Root and the caller must fall back to a full directory walk.
	Overflow
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	case Rename:
		return "rename"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is one filesystem change hint. Lossiness is acceptable: every
// event is a hint, correctness is restored by the encoder re-stating the
// file (spec.md §4.5).
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string // set only for Rename
	Root    string // watched root this event/overflow belongs to
}

const debounceWindow = 200 * time.Millisecond

// Watcher wraps fsnotify with spec.md §4.5's debounce and rename policy.
type Watcher struct {
	roots   []string
	filters map[string]*PathFilter // watched root -> optional include/exclude filter
	fsw     *fsnotify.Watcher
	out     chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent // path -> latest coalesced event
}

type pendingEvent struct {
	kind    EventKind
	oldPath string
	timer   *time.Timer
}

// New creates a Watcher over roots, recursively adding every directory
// under each root to fsnotify (which is not recursive on its own). out
// is bounded and lossy: capacity events are buffered, and a full channel
// causes further sends to degrade to an Overflow marker for the
// affected root rather than block the fsnotify read loop. filters is
// keyed by watched root and may be nil or missing entries; a root with
// no entry is watched unfiltered.
func New(roots []string, outCapacity int, filters map[string]*PathFilter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		roots:   append([]string{}, roots...),
		filters: filters,
		fsw:     fsw,
		out:     make(chan Event, outCapacity),
		pending: make(map[string]*pendingEvent),
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// filterFor returns the PathFilter governing path, based on whichever
// watched root it falls under, or nil (allow everything) if none.
func (w *Watcher) filterFor(path string) *PathFilter {
	return w.filters[w.rootFor(path)]
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !w.filterFor(path).Allow(path) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Events returns the channel of coalesced events. Consumers must drain it
// continuously; a stalled consumer degrades to Overflow markers instead of
// blocking the watcher's internal goroutines indefinitely.
func (w *Watcher) Events() <-chan Event { return w.out }

// Run pumps fsnotify's raw events into the debounced output channel until
// ctx is canceled. It also performs the startup walk described in
// spec.md §4.5 before entering the pump loop.
func (w *Watcher) Run(ctx context.Context, recon Reconciler) {
	w.fullWalk(recon, "")

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) rootFor(path string) string {
	for _, r := range w.roots {
		if isUnder(r, path) {
			return r
		}
	}
	return ""
}

// isUnder reports whether path is root itself or lies beneath it,
// without being fooled by sibling directories that share a prefix
// (e.g. "/data" vs "/data2").
func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	root := w.rootFor(ev.Name)
	if root == "" {
		return
	}
	if !w.filters[root].Allow(ev.Name) {
		return
	}

	var kind EventKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = Create
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// A new directory appeared under a watched root: watch it too
			// so its future contents are seen.
			_ = w.addTree(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		kind = Modify
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		// fsnotify reports a move-away as Rename with no destination
		// event pairing available cross-platform; spec.md §4.5 treats
		// this as a delete-at-old-id, since we cannot reliably observe
		// the new-path side without inotify cookie correlation this
		// package does not attempt.
		kind = Delete
	default:
		return
	}

	w.debounce(ev.Name, kind, "", root)
}

func (w *Watcher) debounce(path string, kind EventKind, oldPath, root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		// Create-then-delete within the window still emits both
		// (spec.md §4.5): only coalesce when the kind doesn't invert
		// existence.
		if p.kind == Create && kind == Delete {
			p.timer.Stop()
			w.emit(Event{Kind: p.kind, Path: path, Root: root})
			delete(w.pending, path)
			w.emitOrOverflow(Event{Kind: Delete, Path: path, Root: root})
			return
		}
		p.kind = kind
		p.oldPath = oldPath
		p.timer.Reset(debounceWindow)
		return
	}

	pe := &pendingEvent{kind: kind, oldPath: oldPath}
	pe.timer = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		cur, ok := w.pending[path]
		if ok {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if !ok {
			return
		}
		w.emitOrOverflow(Event{Kind: cur.kind, Path: path, OldPath: cur.oldPath, Root: root})
	})
	w.pending[path] = pe
}

// emit is used only for the create-then-delete pair, where the first
// half must be flushed immediately and out-of-band from the timer.
func (w *Watcher) emit(ev Event) {
	w.emitOrOverflow(ev)
}

func (w *Watcher) emitOrOverflow(ev Event) {
	select {
	case w.out <- ev:
	default:
		select {
		case w.out <- Event{Kind: Overflow, Root: ev.Root}:
		default:
			// Even the overflow marker didn't fit: the event is dropped
			// and no rescan is scheduled for it. A later Overflow marker
			// for this root, or the startup walk on the next Run, is what
			// picks the change up again.
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Reconciler supplies the recorded (size, mtime) for a path so the
// startup/overflow walk can synthesize Create/Modify events per
// spec.md §4.5.
type Reconciler interface {
	// Recorded returns the last-known size and mtime for path, and
	// whether a record exists at all.
	Recorded(path string) (size int64, mtimeUnix int64, ok bool)
}

// fullWalk synthesizes Create events for paths absent from metadata and
// Modify events for paths whose size/mtime differs from the recorded
// value. If root is empty, every watched root is walked (startup); a
// non-empty root scopes the walk to a single overflowed root.
func (w *Watcher) fullWalk(recon Reconciler, root string) {
	if recon == nil {
		return
	}
	roots := w.roots
	if root != "" {
		roots = []string{root}
	}
	for _, r := range roots {
		f := w.filters[r]
		_ = filepath.WalkDir(r, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != r && !f.Allow(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if !f.Allow(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			size, mtime, ok := recon.Recorded(path)
			switch {
			case !ok:
				w.emitOrOverflow(Event{Kind: Create, Path: path, Root: r})
			case size != info.Size() || mtime != info.ModTime().Unix():
				w.emitOrOverflow(Event{Kind: Modify, Path: path, Root: r})
			}
			return nil
		})
	}
}

// Rescan forces a full-directory walk of root, as if an overflow marker
// had just been observed for it (spec.md §4.5).
func (w *Watcher) Rescan(recon Reconciler, root string) {
	w.fullWalk(recon, root)
}
