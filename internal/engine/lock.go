package engine

import "sync"

// FileGuard is the per-file_id coordination point shared by the
// protection engine (C4) and the repair engine (C7), per spec.md's
// design note: "model as a sharded lock map keyed by file_id, with a
// pending re-encode boolean guarded by the same lock." encMu is that
// lock; pending is tracked separately so a caller that fails to acquire
// encMu (an encode already in flight) can record its intent without
// blocking — the leaf-only-locks rule in spec.md §5 forbids an
// unbounded wait here.
type FileGuard struct {
	encMu sync.Mutex

	pendingMu sync.Mutex
	pending   bool
}

// Lock blocks until the file's lock is free. Used by the repair engine,
// which must run exclusively of any in-flight encode but is not on
// C4's hot path, so blocking briefly is acceptable.
func (g *FileGuard) Lock() { g.encMu.Lock() }

// Unlock releases the lock acquired by Lock or a successful TryLock.
func (g *FileGuard) Unlock() { g.encMu.Unlock() }

// TryLock attempts to acquire the lock without blocking, used by the
// protection engine so a burst of events for one file never queues up
// waiting goroutines (spec.md §5's leaf-only-locks rule).
func (g *FileGuard) TryLock() bool { return g.encMu.TryLock() }

func (g *FileGuard) setPending(v bool) {
	g.pendingMu.Lock()
	g.pending = v
	g.pendingMu.Unlock()
}

// SetPending records that a re-encode was requested while the lock was
// held by someone else.
func (g *FileGuard) SetPending() { g.setPending(true) }

// consumePending reports whether a re-encode was requested while the
// caller held encMu, clearing the flag atomically with the read.
func (g *FileGuard) consumePending() bool {
	g.pendingMu.Lock()
	v := g.pending
	g.pending = false
	g.pendingMu.Unlock()
	return v
}

// ConsumePending is the exported form of consumePending, used by
// Engine.Protect's own retry loop. Repair never calls it: a Protect call
// that loses TryLock to an in-progress repair leaves its pending flag
// set until the next successful Protect call consumes it, or, in the
// worst case, until the checker's own mtime/size drift detection
// requeues the file on its next sweep.
func (g *FileGuard) ConsumePending() bool { return g.consumePending() }

// LockMap hands out one FileGuard per file_id, created lazily. Guards
// are never removed: a deleted file's guard is small and harmless to
// keep, and removing it while another goroutine holds a reference would
// reintroduce the very race the map exists to prevent.
type LockMap struct {
	mu     sync.Mutex
	guards map[string]*FileGuard
}

func newLockMap() *LockMap {
	return &LockMap{guards: make(map[string]*FileGuard)}
}

// Guard returns the shared FileGuard for fileID, creating it on first use.
func (m *LockMap) Guard(fileID string) *FileGuard {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guards[fileID]
	if !ok {
		g = &FileGuard{}
		m.guards[fileID] = g
	}
	return g
}
