package sstable

import (
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
	"gopkg.in/gholt/brimutil.v1"

	"github.com/brimstore/sstable/columnkey"
)

// Reader is a finalized, immutable SST triplet opened for reading. Once
// finalized, its methods are safe for concurrent invocation provided each
// caller holds its own Scanner (Scanners are not themselves thread-safe),
// per §5.
type Reader struct {
	dataPath, indexPath, filterPath string
	depth                           columnkey.Depth
	index                           []indexEntry
	filter                          *bloom.BloomFilter
	dataSize                        int64
	cfg                             *config

	refCount      int32
	closeRequested int32
}

// OpenReader opens an existing finalized SST triplet named name under dir.
func OpenReader(dir, name string, depth columnkey.Depth, opts ...Option) (*Reader, error) {
	cfg := resolveConfig(opts...)
	dataPath, indexPath, filterPath := sstPaths(dir, name)

	indexFP, err := os.Open(indexPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "reader: open index: %v", err)
	}
	defer indexFP.Close()
	index, err := readIndexFile(indexFP, cfg.indexInterval)
	if err != nil {
		return nil, err
	}

	filterFP, err := os.Open(filterPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "reader: open filter: %v", err)
	}
	defer filterFP.Close()
	bf, err := readFilterFile(filterFP)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(dataPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "reader: stat data: %v", err)
	}

	return &Reader{
		dataPath: dataPath, indexPath: indexPath, filterPath: filterPath,
		depth: depth, index: index, filter: bf, dataSize: st.Size(), cfg: cfg,
		refCount: 1,
	}, nil
}

// openFinalized builds a Reader directly from a just-finalized Writer's
// in-memory index and filter, avoiding a redundant re-read of the files
// that were just written.
func openFinalized(dataPath, indexPath, filterPath string, depth columnkey.Depth, index []indexEntry, bf *bloom.BloomFilter, cfg *config) (*Reader, error) {
	st, err := os.Stat(dataPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "reader: stat data: %v", err)
	}
	return &Reader{
		dataPath: dataPath, indexPath: indexPath, filterPath: filterPath,
		depth: depth, index: index, filter: bf, dataSize: st.Size(), cfg: cfg,
		refCount: 1,
	}, nil
}

// Ref increments the reader's reference count. Every Scanner created via
// NewScanner holds one ref, released by Scanner.Close, implementing §3's
// ownership contract: the file triplet may only be removed once no
// scanner references it.
func (r *Reader) Ref() {
	atomic.AddInt32(&r.refCount, 1)
}

// Unref releases one reference. If Close was already requested and this
// was the last reference, the underlying file triplet is removed.
func (r *Reader) Unref() {
	if atomic.AddInt32(&r.refCount, -1) == 0 && atomic.LoadInt32(&r.closeRequested) != 0 {
		r.removeFiles()
	}
}

// Close releases the Reader's own implicit reference (held since
// OpenReader/Finalize) and marks it for removal: if no scanner still
// references it, the triplet is removed immediately; otherwise removal is
// deferred to the last outstanding Scanner's Unref.
func (r *Reader) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closeRequested, 0, 1) {
		return nil
	}
	if atomic.AddInt32(&r.refCount, -1) == 0 {
		return r.removeFiles()
	}
	return nil
}

func (r *Reader) removeFiles() error {
	var first error
	for _, p := range []string{r.dataPath, r.indexPath, r.filterPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

// NewScanner opens a fresh data-file descriptor for the returned Scanner,
// per §5's "File descriptors are per-scanner", and positions it at the
// first block.
func (r *Reader) NewScanner() (*Scanner, error) {
	r.Ref()
	raw, err := os.Open(r.dataPath)
	if err != nil {
		r.Unref()
		return nil, errors.Wrapf(ErrTransientIO, "scanner: open data: %v", err)
	}
	fp := brimutil.NewChecksummedReader(raw, r.cfg.checksumInterval, murmur3.New32)
	s := &Scanner{r: r, fp: fp, seq: nextScannerSeq()}
	if len(r.index) == 0 {
		s.atEOF = true
		return s, nil
	}
	if err := s.loadBlock(0); err != nil {
		fp.Close()
		r.Unref()
		return nil, err
	}
	if err := s.decodeCurrent(); err != nil {
		fp.Close()
		r.Unref()
		return nil, err
	}
	return s, nil
}

// MightContain is a point-lookup bloom probe for (key, columnName); a false
// result is conclusive.
func (r *Reader) MightContain(key columnkey.Key, columnName []byte) bool {
	return probeFilter(r.filter, key, columnName)
}

var scannerSeq int64

func nextScannerSeq() int64 {
	return atomic.AddInt64(&scannerSeq, 1)
}
