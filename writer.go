package sstable

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
	"gopkg.in/gholt/brimutil.v1"

	"github.com/brimstore/sstable/columnkey"
)

// Writer streams a monotonically non-decreasing sequence of
// (Metadata, ColumnKey, Column) appends, or whole pre-serialized Slice
// appends, into a finalized SST triplet, per §4.2. It is single-threaded:
// the caller must serialize every call, matching §5's concurrency model.
type Writer struct {
	cfg   *config
	depth columnkey.Depth

	dataTmpPath, indexTmpPath, filterTmpPath string
	dataFinalPath, indexFinalPath, filterFinalPath string

	dataW  io.WriteCloser
	indexW io.WriteCloser

	blockBuf      []byte
	blockFirstKey *columnkey.Key

	haveCur  bool
	curStart columnkey.Key
	curMeta  columnkey.Metadata
	curCols  []columnkey.Column
	curBytes int

	haveLast bool
	lastKey  columnkey.Key

	dataOffset  int64
	indexOffset int64

	index        []indexEntry
	filterHashes [][]byte
	unionFilter  *bloom.BloomFilter

	finalized bool
	abandoned bool

	counters writerCounters
}

// NewWriter creates the -tmp- triplet under dir named name.{data,index,filter}
// and returns a Writer ready for Append/AppendSlice calls.
func NewWriter(dir, name string, depth columnkey.Depth, opts ...Option) (*Writer, error) {
	cfg := resolveConfig(opts...)
	w := &Writer{cfg: cfg, depth: depth}
	w.dataTmpPath = filepath.Join(dir, "-tmp-"+name+".data")
	w.indexTmpPath = filepath.Join(dir, "-tmp-"+name+".index")
	w.filterTmpPath = filepath.Join(dir, "-tmp-"+name+".filter")
	w.dataFinalPath = filepath.Join(dir, name+".data")
	w.indexFinalPath = filepath.Join(dir, name+".index")
	w.filterFinalPath = filepath.Join(dir, name+".filter")

	dataFP, err := os.Create(w.dataTmpPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: create data file: %v", err)
	}
	indexFP, err := os.Create(w.indexTmpPath)
	if err != nil {
		dataFP.Close()
		os.Remove(w.dataTmpPath)
		return nil, errors.Wrapf(ErrTransientIO, "writer: create index file: %v", err)
	}
	w.dataW = brimutil.NewChecksummedWriter(dataFP, cfg.checksumInterval, murmur3.New32)
	w.indexW = brimutil.NewChecksummedWriter(indexFP, cfg.checksumInterval, murmur3.New32)
	return w, nil
}

// Append adds one (Metadata, ColumnKey, Column) triple. key must be
// non-decreasing at full depth relative to the previously appended key, or
// ErrInputOrderViolation is returned and the write is aborted.
func (w *Writer) Append(meta columnkey.Metadata, key columnkey.Key, col columnkey.Column) error {
	if w.finalized || w.abandoned {
		return errors.Wrap(ErrWriterClosed, "writer: append after finalize/abandon")
	}
	d := w.depth.D()
	if w.haveLast && key.Compare(w.lastKey, w.depth, d) < 0 {
		return errors.Wrapf(ErrInputOrderViolation, "writer: key went backwards")
	}
	natural := false
	if w.haveCur {
		natural = !columnkey.SameParentGroup(w.curStart, key, w.depth)
		artificial := !meta.Equal(w.curMeta) || w.curBytes >= w.cfg.targetMaxSliceBytes
		if natural || artificial {
			if err := w.closeCurrentSlice(natural); err != nil {
				return err
			}
		}
	}
	if !w.haveCur {
		w.curStart = key
		if natural {
			w.curStart = roundedBegin(key, d)
		}
		w.curMeta = meta
		w.curCols = nil
		w.curBytes = 0
		w.haveCur = true
	}
	w.curCols = append(w.curCols, col)
	w.curBytes += columnByteSize(col)
	w.recordFilterHash(key, col.Name)
	w.lastKey = key
	w.haveLast = true
	return nil
}

// AppendSlice appends an already-complete Slice, the path compaction uses
// to feed its merge output directly into a new SST without re-splitting
// columns into individual Append calls.
func (w *Writer) AppendSlice(s Slice) error {
	if w.finalized || w.abandoned {
		return errors.Wrap(ErrWriterClosed, "writer: append after finalize/abandon")
	}
	if n := columnsByteSize(s.Columns); n > w.cfg.targetMaxSliceBytes {
		return errors.Wrapf(ErrBoundedResourceExhaustion, "writer: appendslice slice of %d bytes exceeds target max slice bytes %d (caller bypassed boundary rules)", n, w.cfg.targetMaxSliceBytes)
	}
	d := w.depth.D()
	if w.haveCur {
		if err := w.closeCurrentSlice(!columnkey.SameParentGroup(w.curStart, s.StartKey, w.depth)); err != nil {
			return err
		}
	}
	if w.haveLast && s.StartKey.Compare(w.lastKey, w.depth, d) < 0 {
		return errors.Wrapf(ErrInputOrderViolation, "writer: appendslice went backwards")
	}
	for _, c := range s.Columns {
		k := s.StartKey
		if d > 0 {
			k = k.WithNameAt(d-1, columnkey.RealName(c.Name))
		}
		w.recordFilterHash(k, c.Name)
	}
	if err := w.writeSliceFrame(s); err != nil {
		return err
	}
	if len(s.Columns) > 0 {
		w.lastKey = s.EndKey
	} else {
		w.lastKey = s.StartKey
	}
	w.haveLast = true
	return nil
}

func (w *Writer) recordFilterHash(key columnkey.Key, name []byte) {
	w.filterHashes = append(w.filterHashes, filterHash(key, name))
}

// columnByteSize estimates col's contribution to a buffered slice, the
// accounting curBytes and the §9 size-cap check both use.
func columnByteSize(c columnkey.Column) int {
	return len(c.Name) + len(c.Value) + 32
}

// columnsByteSize sums columnByteSize across cols, used to validate a
// whole pre-built Slice handed to AppendSlice against targetMaxSliceBytes
// before it bypasses the incremental Append boundary checks entirely.
func columnsByteSize(cols []columnkey.Column) int {
	n := 0
	for _, c := range cols {
		n += columnByteSize(c)
	}
	return n
}

// closeCurrentSlice finalizes the in-progress slice buffered from Append
// calls, rounding its boundaries per §4.2 when natural is true, and clears
// haveCur.
func (w *Writer) closeCurrentSlice(natural bool) error {
	d := w.depth.D()
	s := Slice{
		StartKey: w.curStart,
		EndKey:   w.lastKey,
		Meta:     w.curMeta,
		Columns:  w.curCols,
	}
	if natural {
		s.EndKey = roundedEnd(s.EndKey, d)
	}
	w.haveCur = false
	w.curCols = nil
	return w.writeSliceFrame(s)
}

// writeSliceFrame encodes s into the current block buffer, closing the
// block first if it has grown past the target and a boundary has arrived.
func (w *Writer) writeSliceFrame(s Slice) error {
	if w.blockFirstKey == nil {
		k := s.StartKey
		w.blockFirstKey = &k
	}
	payload := make([]byte, 0, s.byteSize())
	for _, c := range s.Columns {
		payload = columnkey.WriteColumnExt(payload, c)
	}
	mark := sliceMark{
		meta:       s.Meta,
		startKey:   s.StartKey,
		endKey:     s.EndKey,
		nextKey:    s.NextKey,
		payloadLen: uint32(len(payload)),
		colCount:   uint32(len(s.Columns)),
		status:     statusContinue,
	}
	frame := writeSliceMark(nil, mark)
	frame = append(frame, payload...)
	w.blockBuf = append(w.blockBuf, frame...)
	atomic.AddInt64(&w.counters.slicesWritten, 1)
	atomic.AddInt64(&w.counters.columnsWritten, int64(len(s.Columns)))
	if len(w.blockBuf) >= w.cfg.targetMaxBlockBytes {
		return w.closeBlock()
	}
	return nil
}

// closeBlock flushes the buffered frames as one block, writes its
// IndexEntry, and resets block-level state.
func (w *Writer) closeBlock() error {
	if len(w.blockBuf) == 0 {
		return nil
	}
	markEndOfBlock(w.blockBuf)
	encoded := encodeBlockPayload(w.cfg.codec, w.blockBuf)
	header := blockHeader{length: uint32(len(encoded)), codecTag: uint8(w.cfg.codec)}
	blockStart := w.dataOffset
	hbuf := writeBlockHeader(nil, header)
	if _, err := w.dataW.Write(hbuf); err != nil {
		return errors.Wrapf(ErrTransientIO, "writer: write block header: %v", err)
	}
	w.dataOffset += int64(len(hbuf))
	if _, err := w.dataW.Write(encoded); err != nil {
		return errors.Wrapf(ErrTransientIO, "writer: write block payload: %v", err)
	}
	w.dataOffset += int64(len(encoded))

	entry := indexEntry{firstKey: *w.blockFirstKey, indexOff: w.indexOffset, dataOffset: blockStart}
	ebuf := writeIndexEntry(nil, entry)
	if _, err := w.indexW.Write(ebuf); err != nil {
		return errors.Wrapf(ErrTransientIO, "writer: write index entry: %v", err)
	}
	w.indexOffset += int64(len(ebuf))
	w.index = append(w.index, entry)

	w.blockBuf = w.blockBuf[:0]
	w.blockFirstKey = nil
	return nil
}

// markEndOfBlock rewrites the status byte of the last SliceMark in buf to
// statusEnd. buf holds one or more complete slice frames; the status byte
// is the final byte of each SliceMark header, located by re-walking the
// frames (cheap relative to block size, and avoids tracking the offset
// separately at every writeSliceFrame call).
func markEndOfBlock(buf []byte) {
	pos := 0
	lastMarkStatusOffset := -1
	for pos < len(buf) {
		mark, n, err := readSliceMark(buf[pos:])
		if err != nil {
			return
		}
		lastMarkStatusOffset = pos + n - 1
		pos += n + int(mark.payloadLen)
	}
	if lastMarkStatusOffset >= 0 {
		buf[lastMarkStatusOffset] = statusEnd
	}
}

// Finalize flushes any open slice, closes the final block, closes the data
// then index files, serializes the bloom filter into the filter file, and
// renames the triplet (data file last), returning an opened Reader. No
// fsync is issued on any of the three files.
func (w *Writer) Finalize() (*Reader, error) {
	if w.finalized {
		return nil, errors.New("writer: already finalized")
	}
	if w.abandoned {
		return nil, errors.New("writer: already abandoned")
	}
	if w.haveCur {
		if err := w.closeCurrentSlice(true); err != nil {
			return nil, err
		}
	}
	if err := w.closeBlock(); err != nil {
		return nil, err
	}
	if err := w.dataW.Close(); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: close data file: %v", err)
	}
	if err := w.indexW.Close(); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: close index file: %v", err)
	}
	bf := w.buildFilter()
	filterFP, err := os.Create(w.filterTmpPath)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: create filter file: %v", err)
	}
	if err := writeFilterFile(filterFP, bf); err != nil {
		filterFP.Close()
		return nil, err
	}
	if err := filterFP.Close(); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: close filter file: %v", err)
	}

	if err := os.Rename(w.indexTmpPath, w.indexFinalPath); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: rename index file: %v", err)
	}
	if err := os.Rename(w.filterTmpPath, w.filterFinalPath); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: rename filter file: %v", err)
	}
	if err := os.Rename(w.dataTmpPath, w.dataFinalPath); err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "writer: rename data file: %v", err)
	}
	w.finalized = true
	logf(w.cfg.log, "sstable: finalized %s (%d blocks, %d bytes data)", w.dataFinalPath, len(w.index), w.dataOffset)
	return openFinalized(w.dataFinalPath, w.indexFinalPath, w.filterFinalPath, w.depth, w.index, bf, w.cfg)
}

// buildFilter constructs the bloom filter from every recorded column
// insertion, merging in unionFilter when it is set. Nothing in this package
// sets unionFilter: AppendSlice records a hash per column just as Append
// does.
func (w *Writer) buildFilter() *bloom.BloomFilter {
	bf := newFilter(uint(len(w.filterHashes)), w.cfg)
	for _, h := range w.filterHashes {
		bf.Add(h)
	}
	if w.unionFilter != nil {
		bf.Merge(w.unionFilter)
	}
	return bf
}

// Abandon removes the -tmp- triplet without finalizing, per §5's
// cancellation contract.
func (w *Writer) Abandon() error {
	if w.finalized {
		return errors.New("writer: already finalized")
	}
	if w.abandoned {
		return nil
	}
	w.abandoned = true
	var first error
	if err := w.dataW.Close(); err != nil && first == nil {
		first = err
	}
	if err := w.indexW.Close(); err != nil && first == nil {
		first = err
	}
	os.Remove(w.dataTmpPath)
	os.Remove(w.indexTmpPath)
	os.Remove(w.filterTmpPath)
	return first
}

func sstPaths(dir, name string) (data, index, filter string) {
	return filepath.Join(dir, name+".data"),
		filepath.Join(dir, name+".index"),
		filepath.Join(dir, name+".filter")
}

// String renders a human-readable identity for logging, matching the
// teacher's preference for cheap %s-able diagnostic values.
func (w *Writer) String() string {
	return fmt.Sprintf("sstable.Writer(%s)", w.dataFinalPath)
}
