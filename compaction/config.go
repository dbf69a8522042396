package compaction

import (
	"os"
	"strconv"
)

type config struct {
	gcBefore            int64
	major               bool
	maxConcurrentInputs int
	targetMaxSliceBytes int
	log                 LogFunc
}

func resolveConfig(opts ...Option) *config {
	cfg := &config{}
	if env := os.Getenv("COMPACTION_GC_BEFORE"); env != "" {
		if v, err := strconv.ParseInt(env, 10, 64); err == nil {
			cfg.gcBefore = v
		}
	}
	if env := os.Getenv("COMPACTION_MAJOR"); env != "" {
		if v, err := strconv.ParseBool(env); err == nil {
			cfg.major = v
		}
	}
	if env := os.Getenv("COMPACTION_MAX_CONCURRENT_INPUTS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.maxConcurrentInputs = v
		}
	}
	if cfg.maxConcurrentInputs <= 0 {
		cfg.maxConcurrentInputs = 32
	}
	if env := os.Getenv("COMPACTION_TARGET_MAX_SLICE_BYTES"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.targetMaxSliceBytes = v
		}
	}
	if cfg.targetMaxSliceBytes <= 0 {
		cfg.targetMaxSliceBytes = 1 << 21
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxConcurrentInputs < 1 {
		cfg.maxConcurrentInputs = 1
	}
	if cfg.targetMaxSliceBytes < 1 {
		cfg.targetMaxSliceBytes = 1
	}
	return cfg
}

// Option configures an Iterator via resolveConfig.
type Option func(*config)

// OptGCBefore sets the wall-clock-seconds threshold below which tombstones
// become eligible for reclamation under a major compaction. Defaults to
// env COMPACTION_GC_BEFORE or 0 (nothing eligible).
func OptGCBefore(seconds int64) Option {
	return func(cfg *config) { cfg.gcBefore = seconds }
}

// OptMajor marks the compaction as major: its input set subsumes every
// SST that could contain the keys being compacted, permitting tombstone
// reclamation. Defaults to env COMPACTION_MAJOR or false.
func OptMajor(major bool) Option {
	return func(cfg *config) { cfg.major = major }
}

// OptMaxConcurrentInputs sets the configured input limit. Defaults to env
// COMPACTION_MAX_CONCURRENT_INPUTS or 32. The value is stored but not
// checked: NewIterator accepts any number of scanners.
func OptMaxConcurrentInputs(n int) Option {
	return func(cfg *config) { cfg.maxConcurrentInputs = n }
}

// OptTargetMaxSliceBytes bounds how large the Iterator lets an output
// slice's buffered columns grow before splitting it, mirroring the same
// bound sstable.Writer.Append enforces on its own input path. Defaults to
// env COMPACTION_TARGET_MAX_SLICE_BYTES or 1<<21.
func OptTargetMaxSliceBytes(n int) Option {
	return func(cfg *config) { cfg.targetMaxSliceBytes = n }
}

// OptLog installs a LogFunc for iterator diagnostics.
func OptLog(fn LogFunc) Option {
	return func(cfg *config) { cfg.log = fn }
}

// LogFunc receives diagnostic messages from an Iterator, injected the same
// way sstable.LogFunc is.
type LogFunc func(format string, v ...interface{})

func logf(fn LogFunc, format string, v ...interface{}) {
	if fn != nil {
		fn(format, v...)
	}
}
