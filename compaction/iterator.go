// Package compaction implements the merge iterator that folds a scanner
// set drawn from one or more SSTables into a single, key-ordered stream of
// output slices, applying the priority and tombstone-GC rules of §4.1
// while doing so (§4.4).
package compaction

import (
	"container/heap"

	"github.com/cockroachdb/errors"

	"github.com/brimstore/sstable"
	"github.com/brimstore/sstable/columnkey"
)

// Iterator is a pull-based merge over a scanner set. Close must be called
// exactly once, whether or not Next has been drained to completion.
type Iterator struct {
	depth columnkey.Depth
	cfg   *config
	heap  scannerHeap
	buf   *mergeBuffer

	startingTotal int64

	haveOutput bool
	outStart   columnkey.Key
	outMeta    columnkey.Metadata
	outCols    []columnkey.Column
	outBytes   int

	stats Stats

	closed bool
}

// Stats returns a snapshot of the iterator's running totals. Safe to call
// at any point, including after Close.
func (it *Iterator) Stats() *Stats {
	s := it.stats
	return &s
}

// NewIterator builds an Iterator over scanners, which must be non-empty.
// Ownership of every scanner passes to the Iterator: Close (or draining
// Next to EOF) closes each of them exactly once.
func NewIterator(scanners []*sstable.Scanner, depth columnkey.Depth, opts ...Option) (*Iterator, error) {
	if len(scanners) == 0 {
		return nil, errors.New("compaction: NewIterator requires a non-empty scanner set")
	}
	it := &Iterator{
		depth: depth,
		cfg:   resolveConfig(opts...),
		buf:   newMergeBuffer(depth),
	}
	it.heap.depth = depth
	for _, s := range scanners {
		it.startingTotal += s.BytesRemaining()
		if s.Get() == nil {
			if err := s.Close(); err != nil {
				return nil, err
			}
			continue
		}
		it.heap.items = append(it.heap.items, s)
	}
	heap.Init(&it.heap)
	logf(it.cfg.log, "compaction: starting with %d live scanners, major=%v gcBefore=%d", it.heap.Len(), it.cfg.major, it.cfg.gcBefore)
	return it, nil
}

// ensureMergeBuffer guarantees the buffer holds every entry at or below
// the global minimum key across the buffer's own head and every scanner's
// current slice, per §4.4 step 1. It returns false only once both the
// buffer and the scanner queue are exhausted.
func (it *Iterator) ensureMergeBuffer() (bool, error) {
	haveMin := false
	var min columnkey.Key
	if k, ok := it.buf.frontKey(); ok {
		min, haveMin = k, true
	}
	if it.heap.Len() > 0 {
		topKey := it.heap.items[0].Get().StartKey
		if !haveMin || topKey.Compare(min, it.depth, it.depth.D()) < 0 {
			min, haveMin = topKey, true
		}
	}
	if !haveMin {
		return false, nil
	}
	d := it.depth.D()
	for it.heap.Len() > 0 {
		s := it.heap.items[0]
		cur := s.Get()
		if cur == nil || cur.StartKey.Compare(min, it.depth, d) > 0 {
			break
		}
		heap.Pop(&it.heap)
		it.buf.merge(buildIncoming(cur, it.depth))
		ok, err := s.Next()
		if err != nil {
			return false, err
		}
		if ok {
			heap.Push(&it.heap, s)
		} else if err := s.Close(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// finishOutput closes out the currently-open output slice, applying major
// compaction's tombstone GC (§4.4's policy: when no column survives, reset
// ancestor marks whose LocalDeletionTime is older than gcBefore) and
// dropping the slice entirely if it ends up with no columns and no
// surviving metadata. Returns nil if the slice was dropped.
func (it *Iterator) finishOutput() *sstable.SliceBuffer {
	meta := it.outMeta
	if it.cfg.major && len(it.outCols) == 0 {
		meta = meta.ResetLevelsOlderThan(int32(it.cfg.gcBefore))
	}
	it.haveOutput = false
	if len(it.outCols) == 0 && meta.IsEmpty() {
		it.stats.SlicesDropped++
		return nil
	}
	it.stats.SlicesEmitted++
	end := it.outStart
	if n := len(it.outCols); n > 0 {
		leaf := it.depth.D() - 1
		end = it.outStart.WithNameAt(leaf, columnkey.RealName(it.outCols[n-1].Name))
	}
	return &sstable.SliceBuffer{
		StartKey: it.outStart,
		EndKey:   end,
		Meta:     meta,
		Columns:  it.outCols,
	}
}

func (it *Iterator) startOutput(key columnkey.Key, meta columnkey.Metadata) {
	it.haveOutput = true
	it.outStart = key
	it.outMeta = meta
	it.outCols = nil
	it.outBytes = 0
}

// columnByteSize estimates col's contribution to a buffered output slice,
// the same accounting writer.go's Append uses for its own size bound.
func columnByteSize(c columnkey.Column) int {
	return len(c.Name) + len(c.Value) + 32
}

// computeNext advances the merge until it has an output slice to emit or
// both inputs are exhausted, per §4.4 step 2: a popped MetadataEntry
// begins a new output slice (closing and emitting the previous one unless
// it was fully deleted); a popped ColumnEntry is appended to the open
// output unless IsDeleted reports it shadowed or GC-eligible.
func (it *Iterator) computeNext() (*sstable.SliceBuffer, bool, error) {
	for {
		ok, err := it.ensureMergeBuffer()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if it.haveOutput {
				if out := it.finishOutput(); out != nil {
					return out, true, nil
				}
			}
			return nil, false, nil
		}
		node, _ := it.buf.popFront()
		switch node.kind {
		case entryMetadata:
			// A metadata entry that continues the same parent group as the
			// currently-open output (an artificial, size-driven boundary in
			// one of the inputs) folds into it rather than closing it, so
			// that two inputs covering the same group from different split
			// points still resolve their ancestor tombstones together.
			if it.haveOutput && columnkey.SameParentGroup(it.outStart, node.key, it.depth) {
				it.outMeta = it.outMeta.Resolve(node.meta)
				continue
			}
			natural := it.haveOutput
			var emit *sstable.SliceBuffer
			if it.haveOutput {
				emit = it.finishOutput()
				if emit != nil {
					emit.EndKey = emit.EndKey.WithNameAt(it.depth.D()-1, columnkey.NameEnd())
				}
			}
			start := node.key
			if natural {
				start = start.WithNameAt(it.depth.D()-1, columnkey.NameBegin())
			}
			it.startOutput(start, node.meta)
			if emit != nil {
				return emit, true, nil
			}
		case entryColumn:
			if !it.haveOutput {
				break
			}
			// A same-parent-group output that has grown past the size
			// bound splits here: the accumulated columns are emitted as
			// one slice and a new output reopens at this column's key
			// under the same metadata, per §9's size-cap requirement. No
			// boundary rounding applies; this is an artificial split, not
			// a parent-group change.
			var splitEmit *sstable.SliceBuffer
			if it.outBytes >= it.cfg.targetMaxSliceBytes {
				meta := it.outMeta
				splitEmit = it.finishOutput()
				it.startOutput(node.key, meta)
			}
			if node.col.IsDeleted(it.outMeta, it.cfg.major, int32(it.cfg.gcBefore)) {
				it.stats.ColumnsDropped++
			} else {
				it.outCols = append(it.outCols, node.col)
				it.outBytes += columnByteSize(node.col)
				it.stats.ColumnsEmitted++
			}
			if splitEmit != nil {
				return splitEmit, true, nil
			}
		}
	}
}

// Next returns the next merged output slice, or nil with a nil error at
// EOF. The returned slice's Columns are already final: shadowed columns
// and GC-eligible tombstones have been dropped per the major/gcBefore
// options given to NewIterator.
func (it *Iterator) Next() (*sstable.SliceBuffer, error) {
	if it.closed {
		return nil, errors.New("compaction: Next called on a closed Iterator")
	}
	out, _, err := it.computeNext()
	return out, err
}

// Progress reports the fraction of input bytes already consumed, summed
// across every scanner's BytesRemaining, for reporting to cmd/sstbench or
// an operator dashboard. Supplements the distilled spec, which specifies
// the merge algorithm but not progress reporting.
func (it *Iterator) Progress() float64 {
	if it.startingTotal <= 0 {
		return 1
	}
	var remaining int64
	for _, s := range it.heap.items {
		remaining += s.BytesRemaining()
	}
	done := it.startingTotal - remaining
	if done < 0 {
		done = 0
	}
	if done > it.startingTotal {
		done = it.startingTotal
	}
	return float64(done) / float64(it.startingTotal)
}

// Close releases every remaining scanner's resources, aggregating any
// close errors via errors.CombineErrors. Safe to call after Next has
// already drained to EOF (the scanner queue will simply be empty).
func (it *Iterator) Close() error {
	var err error
	for it.heap.Len() > 0 {
		s := heap.Pop(&it.heap).(*sstable.Scanner)
		err = errors.CombineErrors(err, s.Close())
	}
	it.closed = true
	return err
}
