// Package config loads and validates the TOML process configuration
// (C9). spec.md §6 treats config loading as an external collaborator
// specified only by its interface; this package implements that
// interface concretely, following the teacher's cmd/nocturne/main.go
// idiom of loading a flat settings file into a validated struct before
// any other subsystem starts.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

const (
	defaultStripeSize      = 1 << 20 // 1 MiB, per spec.md §6
	defaultCheckIntervalS  = 3600
	defaultCheckerWorkers  = 4
	defaultLogLevel        = "info"
	defaultCheckerIOPerSec = 200
)

// defaultEncoderWorkers sizes the encode worker pool to the CPU count.
var defaultEncoderWorkers = runtime.NumCPU()

// raw mirrors the TOML file's on-disk shape exactly (spec.md §6's table),
// plus SPEC_FULL.md's ambient additions. Fields absent from the file take
// Go zero values, which Load then defaults.
type raw struct {
	WatchedDirectories []string         `toml:"watched_directories"`
	DataShards         int              `toml:"data_shards"`
	ParityShards       int              `toml:"parity_shards"`
	StripeSize         int64            `toml:"stripe_size"`
	CheckIntervalSecs  int64            `toml:"check_interval_secs"`
	MetadataDir        string           `toml:"metadata_dir"`
	ShardDir           string           `toml:"shard_dir"`
	LogLevel           string           `toml:"log_level"`
	CheckerWorkers     int              `toml:"checker_workers"`
	EncoderWorkers     int              `toml:"encoder_workers"`
	CheckerIOPerSec    int              `toml:"checker_io_per_sec"`
	WatchFilters       []rawWatchFilter `toml:"watch_filter"`
}

// rawWatchFilter is one [[watch_filter]] table: an optional per-root
// include/exclude scope for the watcher (SPEC_FULL.md §4.5).
type rawWatchFilter struct {
	Root     string   `toml:"root"`
	Excludes []string `toml:"excludes"`
	Includes []string `toml:"includes"`
}

// Config is the process-wide, immutable-after-load configuration
// (spec.md §3). Every field is validated by Load before use.
type Config struct {
	WatchedRoots  []string
	DataShards    int
	ParityShards  int
	StripeSize    int64
	CheckInterval time.Duration
	MetadataDir   string
	ShardDir      string
	LogLevel      string

	// Ambient additions per SPEC_FULL.md §3: worker pool sizes. Optional
	// with sane defaults; they do not affect correctness, only throughput.
	CheckerWorkers int
	EncoderWorkers int

	// CheckerIOPerSec caps the integrity checker's shard reads per second,
	// kept separate from the encoder's I/O per spec.md §4.6's closing
	// sentence so a sweep never starves in-flight protect operations.
	CheckerIOPerSec int

	// PathFilters maps a watched root (absolute, cleaned, matching an
	// entry in WatchedRoots) to its optional include/exclude prefixes.
	// A root absent from this map is watched unfiltered, per SPEC_FULL.md
	// §4.5's "watch everything" default.
	PathFilters map[string]PathFilterSpec
}

// PathFilterSpec is one watched root's include/exclude path prefixes,
// as loaded from a [[watch_filter]] TOML table.
type PathFilterSpec struct {
	Excludes []string
	Includes []string
}

// Load reads and validates a TOML config file at path. Any violation is
// returned as an *rserrors.Error of KindConfig, which callers should
// treat as a fatal startup error (spec.md §6, exit code 2).
func Load(path string) (*Config, error) {
	var r raw
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, rserrors.New(rserrors.KindConfig, "config.Load", err).WithPath(path)
	}
	return fromRaw(&r)
}

func fromRaw(r *raw) (*Config, error) {
	cfg := &Config{
		DataShards:     r.DataShards,
		ParityShards:   r.ParityShards,
		StripeSize:     r.StripeSize,
		MetadataDir:    r.MetadataDir,
		ShardDir:       r.ShardDir,
		LogLevel:       r.LogLevel,
		CheckerWorkers:  r.CheckerWorkers,
		EncoderWorkers:  r.EncoderWorkers,
		CheckerIOPerSec: r.CheckerIOPerSec,
	}

	if cfg.StripeSize <= 0 {
		cfg.StripeSize = defaultStripeSize
	}
	checkSecs := r.CheckIntervalSecs
	if checkSecs <= 0 {
		checkSecs = defaultCheckIntervalS
	}
	cfg.CheckInterval = time.Duration(checkSecs) * time.Second

	if cfg.CheckerWorkers <= 0 {
		cfg.CheckerWorkers = defaultCheckerWorkers
	}
	if cfg.EncoderWorkers <= 0 {
		cfg.EncoderWorkers = defaultEncoderWorkers
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.CheckerIOPerSec <= 0 {
		cfg.CheckerIOPerSec = defaultCheckerIOPerSec
	}

	for _, dir := range r.WatchedDirectories {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, configErrf("watched_directories: resolve %q: %v", dir, err)
		}
		cfg.WatchedRoots = append(cfg.WatchedRoots, filepath.Clean(abs))
	}

	if len(r.WatchFilters) > 0 {
		cfg.PathFilters = make(map[string]PathFilterSpec, len(r.WatchFilters))
		for _, wf := range r.WatchFilters {
			abs, err := filepath.Abs(wf.Root)
			if err != nil {
				return nil, configErrf("watch_filter: resolve root %q: %v", wf.Root, err)
			}
			cfg.PathFilters[filepath.Clean(abs)] = PathFilterSpec{Excludes: wf.Excludes, Includes: wf.Includes}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.WatchedRoots) == 0 {
		return configErrf("watched_directories: at least one root is required")
	}
	if err := checkNoOverlap(c.WatchedRoots); err != nil {
		return err
	}
	if c.DataShards < 1 {
		return configErrf("data_shards: must be >= 1, got %d", c.DataShards)
	}
	if c.ParityShards < 1 {
		return configErrf("parity_shards: must be >= 1, got %d", c.ParityShards)
	}
	if c.DataShards+c.ParityShards > 255 {
		return configErrf("data_shards + parity_shards must be <= 255, got %d", c.DataShards+c.ParityShards)
	}
	if c.StripeSize < int64(c.DataShards) {
		return configErrf("stripe_size (%d) must be >= data_shards (%d)", c.StripeSize, c.DataShards)
	}
	if c.MetadataDir == "" {
		return configErrf("metadata_dir: required")
	}
	if c.ShardDir == "" {
		return configErrf("shard_dir: required")
	}
	for root := range c.PathFilters {
		found := false
		for _, w := range c.WatchedRoots {
			if w == root {
				found = true
				break
			}
		}
		if !found {
			return configErrf("watch_filter: root %q is not a watched_directories entry", root)
		}
	}
	return nil
}

// checkNoOverlap enforces spec.md §3's "no overlap" invariant on
// watched_roots: no root may be a prefix path of, or identical to,
// another.
func checkNoOverlap(roots []string) error {
	for i, a := range roots {
		for j, b := range roots {
			if i == j {
				continue
			}
			if a == b || isSubPath(a, b) {
				return configErrf("watched_directories: %q overlaps %q", a, b)
			}
		}
	}
	return nil
}

func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func configErrf(format string, args ...any) error {
	return rserrors.New(rserrors.KindConfig, "config.validate", fmt.Errorf(format, args...))
}
