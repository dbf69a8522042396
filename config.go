package sstable

import (
	"os"
	"runtime"
	"strconv"
)

// Codec identifies a block payload compressor.
type Codec uint8

const (
	// CodecIdentity stores block payloads uncompressed. Default per the
	// on-disk format's codec_tag placeholder.
	CodecIdentity Codec = 0
	// CodecSnappy compresses block payloads with snappy.
	CodecSnappy Codec = 1
)

type config struct {
	targetMaxSliceBytes int
	targetMaxBlockBytes int
	indexInterval       int
	checksumInterval    int
	fileReaders         int
	columnsPerKeyHint   uint
	hashCount           uint
	codec               Codec
	log                 LogFunc
}

func resolveConfig(opts ...Option) *config {
	cfg := &config{}
	if env := os.Getenv("SSTABLE_TARGET_MAX_SLICE_BYTES"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.targetMaxSliceBytes = v
		}
	}
	if cfg.targetMaxSliceBytes <= 0 {
		cfg.targetMaxSliceBytes = 1 << 21
	}
	if env := os.Getenv("SSTABLE_TARGET_MAX_BLOCK_BYTES"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.targetMaxBlockBytes = v
		}
	}
	if cfg.targetMaxBlockBytes <= 0 {
		cfg.targetMaxBlockBytes = 16 * 1024
	}
	if env := os.Getenv("SSTABLE_INDEX_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.indexInterval = v
		}
	}
	if cfg.indexInterval <= 0 {
		cfg.indexInterval = 128
	}
	if env := os.Getenv("SSTABLE_CHECKSUM_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.checksumInterval = v
		}
	}
	if cfg.checksumInterval <= 0 {
		cfg.checksumInterval = 65532
	}
	if env := os.Getenv("SSTABLE_FILE_READERS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.fileReaders = v
		}
	}
	if cfg.fileReaders <= 0 {
		cfg.fileReaders = runtime.GOMAXPROCS(0)
	}
	if env := os.Getenv("SSTABLE_COLUMNS_PER_KEY_HINT"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			cfg.columnsPerKeyHint = uint(v)
		}
	}
	if cfg.columnsPerKeyHint == 0 {
		cfg.columnsPerKeyHint = 11
	}
	if env := os.Getenv("SSTABLE_HASH_COUNT"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			cfg.hashCount = uint(v)
		}
	}
	if cfg.hashCount == 0 {
		cfg.hashCount = 15
	}
	cfg.codec = CodecIdentity
	if env := os.Getenv("SSTABLE_CODEC"); env == "snappy" {
		cfg.codec = CodecSnappy
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.targetMaxSliceBytes < 1 {
		cfg.targetMaxSliceBytes = 1
	}
	if cfg.targetMaxBlockBytes < 1 {
		cfg.targetMaxBlockBytes = 1
	}
	if cfg.indexInterval < 1 {
		cfg.indexInterval = 1
	}
	if cfg.fileReaders < 1 {
		cfg.fileReaders = 1
	}
	return cfg
}

// Option configures a Writer or Reader via resolveConfig.
type Option func(*config)

// OptTargetMaxSliceBytes bounds how large a buffered slice may grow before
// an artificial boundary is forced. Defaults to env
// SSTABLE_TARGET_MAX_SLICE_BYTES or 1<<21.
func OptTargetMaxSliceBytes(n int) Option {
	return func(cfg *config) { cfg.targetMaxSliceBytes = n }
}

// OptTargetMaxBlockBytes bounds the block buffer before it is closed at the
// next slice boundary. Defaults to env SSTABLE_TARGET_MAX_BLOCK_BYTES or 16Ki.
func OptTargetMaxBlockBytes(n int) Option {
	return func(cfg *config) { cfg.targetMaxBlockBytes = n }
}

// OptIndexInterval controls how many blocks are skipped between retained
// sparse index entries. Defaults to env SSTABLE_INDEX_INTERVAL or 128.
func OptIndexInterval(n int) Option {
	return func(cfg *config) { cfg.indexInterval = n }
}

// OptChecksumInterval sets the byte interval between checksums in the
// underlying brimutil.ChecksummedReader/Writer framing. Defaults to env
// SSTABLE_CHECKSUM_INTERVAL or 65532 (the teacher's own default).
func OptChecksumInterval(n int) Option {
	return func(cfg *config) { cfg.checksumInterval = n }
}

// OptFileReaders sets the configured file-reader count. Defaults to env
// SSTABLE_FILE_READERS or GOMAXPROCS. The value is stored but not read by
// Reader or Writer: every Scanner opens its own data-file descriptor.
func OptFileReaders(n int) Option {
	return func(cfg *config) { cfg.fileReaders = n }
}

// OptColumnsPerKeyHint sets how many bloom filter bits are allocated per
// inserted (key, column name) entry. Defaults to env
// SSTABLE_COLUMNS_PER_KEY_HINT or 11.
func OptColumnsPerKeyHint(n uint) Option {
	return func(cfg *config) { cfg.columnsPerKeyHint = n }
}

// OptHashCount sets the bloom filter's hash function count. Defaults to env
// SSTABLE_HASH_COUNT or 15.
func OptHashCount(n uint) Option {
	return func(cfg *config) { cfg.hashCount = n }
}

// OptCodec selects the block payload codec. Defaults to env SSTABLE_CODEC
// ("snappy" selects CodecSnappy) or CodecIdentity.
func OptCodec(c Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// OptLog installs a LogFunc for Writer diagnostics (Finalize logs each
// finalized triplet). Reader does not log.
func OptLog(fn LogFunc) Option {
	return func(cfg *config) { cfg.log = fn }
}
