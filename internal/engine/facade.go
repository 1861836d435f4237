package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rsguard/rs_guard/internal/metadata"
)

// Phase is EngineStatus's coarse activity indicator, carried over from
// original_source/shared/src/lib.rs's AppStatus/ServiceStatus enum
// (SPEC_FULL.md §3). It is advisory only: nothing in the protection,
// checking, or repair algorithms branches on it.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseChecking  Phase = "checking"
	PhaseRepairing Phase = "repairing"
	PhaseError     Phase = "error"
)

const logRingCapacity = 64

// EngineStatus is the façade's status() return value (spec.md §6),
// extended with Phase and a bounded recent-log ring per SPEC_FULL.md §3.
type EngineStatus struct {
	DataShards         int
	ParityShards       int
	WatchedDirectories []string
	TotalFiles         int
	Protected          int
	Damaged            int
	Unrecoverable      int
	LastCheckEpoch     int64
	Phase              Phase
	RecentLog          []string
}

// FileSummary is one entry of list_files()'s result (spec.md §6).
type FileSummary struct {
	Path         string
	Size         int64
	Status       metadata.FileStatus
	StripeCount  int
	LastModified int64
}

// CheckSummary is check_now()'s result: the outcome of one out-of-band
// integrity sweep.
type CheckSummary struct {
	FilesChecked  int
	Damaged       int
	Unrecoverable int
}

// Checker is the subset of the integrity checker (C6) the façade drives
// on demand. Defined here rather than imported from internal/checker to
// avoid a cycle: internal/checker depends on internal/engine, not the
// other way around.
type Checker interface {
	RunSweep(ctx context.Context) (CheckSummary, error)
}

// Repairer is the subset of the repair engine (C7) the façade drives on
// demand, for the same reason Checker is an interface here.
type Repairer interface {
	RepairFile(ctx context.Context, fileID string) error
}

// Facade implements C8: a thin, mostly-pure read layer over the shared
// stores plus two on-demand triggers: CheckNow (spec.md §6) and RepairNow
// (SPEC_FULL.md §4.8). It is what a
// CLI or HTTP adapter talks to instead of reaching into C1-C7 directly.
type Facade struct {
	engine *Engine

	mu            sync.Mutex
	phase         Phase
	lastCheck     time.Time
	recentLog     []string
	checkerHook   Checker
	repairHook    Repairer
}

// NewFacade builds a Facade over engine. Checker/Repairer hooks can be
// attached later with SetChecker/SetRepairer once those subsystems are
// constructed, since they in turn depend on this same Engine.
func NewFacade(e *Engine) *Facade {
	return &Facade{engine: e, phase: PhaseIdle}
}

// SetChecker attaches the integrity checker driving check_now().
func (f *Facade) SetChecker(c Checker) {
	f.mu.Lock()
	f.checkerHook = c
	f.mu.Unlock()
}

// SetRepairer attaches the repair engine driving RepairNow().
func (f *Facade) SetRepairer(r Repairer) {
	f.mu.Lock()
	f.repairHook = r
	f.mu.Unlock()
}

// NotePhase and NoteLog record coarse activity into the façade's
// advisory status fields. CheckNow and RepairNow call NotePhase; nothing
// calls NoteLog, and the checker's and repair engine's own Run loops call
// neither, so periodic sweeps leave Phase, LastCheckEpoch and RecentLog
// unchanged.
func (f *Facade) NotePhase(p Phase) {
	f.mu.Lock()
	f.phase = p
	if p == PhaseIdle {
		f.lastCheck = time.Now()
	}
	f.mu.Unlock()
}

func (f *Facade) NoteLog(line string) {
	f.mu.Lock()
	f.recentLog = append(f.recentLog, line)
	if len(f.recentLog) > logRingCapacity {
		f.recentLog = f.recentLog[len(f.recentLog)-logRingCapacity:]
	}
	f.mu.Unlock()
}

// Status returns a snapshot per spec.md §6's status().
func (f *Facade) Status() (EngineStatus, error) {
	all, err := f.engine.Meta().ListAll()
	if err != nil {
		return EngineStatus{}, err
	}

	f.mu.Lock()
	phase := f.phase
	lastCheck := f.lastCheck
	logCopy := append([]string{}, f.recentLog...)
	f.mu.Unlock()

	st := EngineStatus{
		DataShards:         f.engine.Codec().DataShards(),
		ParityShards:       f.engine.Codec().ParityShards(),
		WatchedDirectories: append([]string{}, f.engine.Config().WatchedRoots...),
		Phase:              phase,
		RecentLog:          logCopy,
	}
	if !lastCheck.IsZero() {
		st.LastCheckEpoch = lastCheck.Unix()
	}
	for _, rec := range all {
		st.TotalFiles++
		switch rec.Status {
		case metadata.StatusProtected:
			st.Protected++
		case metadata.StatusDamaged:
			st.Damaged++
		case metadata.StatusUnrecoverable:
			st.Unrecoverable++
		}
	}
	return st, nil
}

// ListFiles returns spec.md §6's list_files() result.
func (f *Facade) ListFiles() ([]FileSummary, error) {
	all, err := f.engine.Meta().ListAll()
	if err != nil {
		return nil, err
	}
	out := make([]FileSummary, 0, len(all))
	for _, rec := range all {
		out = append(out, FileSummary{
			Path:         rec.Path,
			Size:         rec.Size,
			Status:       rec.Status,
			StripeCount:  len(rec.Stripes),
			LastModified: rec.ModTimeUnix,
		})
	}
	return out, nil
}

// CheckNow triggers an out-of-band integrity sweep and returns its
// summary once done, per spec.md §6.
func (f *Facade) CheckNow(ctx context.Context) (CheckSummary, error) {
	f.mu.Lock()
	checker := f.checkerHook
	f.mu.Unlock()
	if checker == nil {
		return CheckSummary{}, nil
	}
	f.NotePhase(PhaseChecking)
	defer f.NotePhase(PhaseIdle)
	return checker.RunSweep(ctx)
}

// RepairNow triggers an immediate repair attempt for fileID, ahead of
// the checker's normal periodic schedule. This is SPEC_FULL.md's
// addition to C8 (§4.8), grounded on original_source's run-repair
// endpoint.
func (f *Facade) RepairNow(ctx context.Context, fileID string) error {
	f.mu.Lock()
	repairer := f.repairHook
	f.mu.Unlock()
	if repairer == nil {
		return nil
	}
	f.NotePhase(PhaseRepairing)
	defer f.NotePhase(PhaseIdle)
	return repairer.RepairFile(ctx, fileID)
}
