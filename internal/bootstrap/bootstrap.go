// Package bootstrap wires C1-C11 together into one running process,
// matching spec.md §5's scheduling model: a shared task executor for
// I/O-bound work (watcher dispatch, checker, repair) and a separate
// worker pool for CPU-bound encode/decode. Grounded on the teacher's
// cmd/nocturne/main.go bootstrap idiom (env/config load, signal
// handling, context-cancellation shutdown) generalized to rs_guard's
// multi-subsystem wiring.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/rsguard/rs_guard/internal/checker"
	"github.com/rsguard/rs_guard/internal/codec"
	"github.com/rsguard/rs_guard/internal/config"
	"github.com/rsguard/rs_guard/internal/engine"
	"github.com/rsguard/rs_guard/internal/metadata"
	"github.com/rsguard/rs_guard/internal/repair"
	"github.com/rsguard/rs_guard/internal/rserrors"
	"github.com/rsguard/rs_guard/internal/shardstore"
	"github.com/rsguard/rs_guard/internal/watcher"
)

// System is one fully-wired rs_guard process.
type System struct {
	Config  *config.Config
	Engine  *engine.Engine
	Facade  *engine.Facade
	Checker *checker.Checker
	Repair  *repair.Engine

	meta    *metadata.Store
	shards  *shardstore.Store
	watch   *watcher.Watcher
	logger  *log.Logger
}

// Load reads and validates the config file, then constructs every
// subsystem. The returned System is ready for Run but has not started
// any background loop yet.
func Load(configPath string) (*System, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err // already a *rserrors.Error of KindConfig
	}
	return build(cfg)
}

func build(cfg *config.Config) (*System, error) {
	logger := log.Default()

	c, err := codec.New(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, rserrors.New(rserrors.KindConfig, "bootstrap.codec", err)
	}

	if err := os.MkdirAll(cfg.ShardDir, 0o755); err != nil {
		return nil, rserrors.New(rserrors.KindIO, "bootstrap.shardstore.mkdir", err).WithPath(cfg.ShardDir)
	}
	ss, err := shardstore.Open(cfg.ShardDir)
	if err != nil {
		return nil, rserrors.New(rserrors.KindIO, "bootstrap.shardstore", err).WithPath(cfg.ShardDir)
	}

	if err := os.MkdirAll(cfg.MetadataDir, 0o755); err != nil {
		return nil, rserrors.New(rserrors.KindIO, "bootstrap.metadata.mkdir", err).WithPath(cfg.MetadataDir)
	}
	dbPath := filepath.Join(cfg.MetadataDir, "rs_guard.db")
	ms, err := metadata.Open(dbPath, func(hash string) error {
		return ss.Delete(shardstore.Key(hash))
	})
	if err != nil {
		return nil, rserrors.New(rserrors.KindMetadataCorrupt, "bootstrap.metadata", err).WithPath(dbPath)
	}

	eng := engine.New(cfg, c, ss, ms, logger)
	facade := engine.NewFacade(eng)
	chk := checker.New(eng, cfg.CheckerWorkers, cfg.CheckerIOPerSec, logger)
	rep := repair.New(eng, logger)
	facade.SetChecker(chk)
	facade.SetRepairer(rep)

	filters := make(map[string]*watcher.PathFilter, len(cfg.PathFilters))
	for root, spec := range cfg.PathFilters {
		filters[root] = watcher.NewPathFilter(root, spec.Excludes, spec.Includes)
	}
	wt, err := watcher.New(cfg.WatchedRoots, 4*cfg.EncoderWorkers, filters)
	if err != nil {
		ms.Close()
		return nil, rserrors.New(rserrors.KindIO, "bootstrap.watcher", err)
	}

	return &System{
		Config:  cfg,
		Engine:  eng,
		Facade:  facade,
		Checker: chk,
		Repair:  rep,
		meta:    ms,
		shards:  ss,
		watch:   wt,
		logger:  logger,
	}, nil
}

// Close releases everything Load opened. Safe to call once, after Run
// returns.
func (s *System) Close() error {
	return s.meta.Close()
}

// metaReconciler adapts the metadata store to watcher.Reconciler: a
// path's FileID is deterministic (spec.md §3), so recorded state is a
// direct point lookup rather than a full scan.
type metaReconciler struct {
	meta *metadata.Store
}

func (r *metaReconciler) Recorded(path string) (int64, int64, bool) {
	rec, ok, err := r.meta.Get(engine.FileID(path))
	if err != nil || !ok {
		return 0, 0, false
	}
	return rec.Size, rec.ModTimeUnix, true
}

// Run starts every background loop and dispatches watcher events onto a
// pool of cfg.EncoderWorkers goroutines until ctx is canceled. It blocks
// until every loop has exited.
func (s *System) Run(ctx context.Context) {
	recon := &metaReconciler{meta: s.meta}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watch.Run(ctx, recon)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Checker.Run(ctx, s.Config.CheckInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Repair.Run(ctx, s.Checker.RepairQueue())
	}()

	workers := s.Config.EncoderWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatchLoop(ctx, recon)
		}()
	}

	wg.Wait()
}

func (s *System) dispatchLoop(ctx context.Context, recon *metaReconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watch.Events():
			if !ok {
				return
			}
			s.handleEvent(ev, recon)
		}
	}
}

func (s *System) handleEvent(ev watcher.Event, recon *metaReconciler) {
	var err error
	switch ev.Kind {
	case watcher.Create, watcher.Modify, watcher.Rename:
		err = s.Engine.Protect(ev.Path)
	case watcher.Delete:
		err = s.Engine.Delete(ev.Path)
	case watcher.Overflow:
		s.watch.Rescan(recon, ev.Root)
		return
	}
	if err != nil {
		s.logger.Printf("[bootstrap] event %s %s: %v", ev.Kind, ev.Path, err)
	}
}

// String implements fmt.Stringer for a quick human summary, used by the
// status CLI subcommand.
func (st SystemSummary) String() string {
	return fmt.Sprintf(
		"data_shards=%d parity_shards=%d watched=%d total=%d protected=%d damaged=%d unrecoverable=%d",
		st.DataShards, st.ParityShards, len(st.WatchedDirectories), st.TotalFiles, st.Protected, st.Damaged, st.Unrecoverable,
	)
}

// SystemSummary aliases the façade's status snapshot so CLI code doesn't
// need to import internal/engine directly for display purposes.
type SystemSummary engine.EngineStatus
