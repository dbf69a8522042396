package sstable

import (
	"fmt"
	"sync/atomic"

	"github.com/gholt/brimtext"
)

// Stats is a point-in-time snapshot of a Writer's counters,
// rendered the way the teacher renders ValuesStoreStats.
type Stats struct {
	BlocksWritten  int64
	SlicesWritten  int64
	ColumnsWritten int64
	DataBytes      int64
	IndexEntries   int64
}

func (s *Stats) String() string {
	return brimtext.Align([][]string{
		{"blocksWritten", fmt.Sprintf("%d", s.BlocksWritten)},
		{"slicesWritten", fmt.Sprintf("%d", s.SlicesWritten)},
		{"columnsWritten", fmt.Sprintf("%d", s.ColumnsWritten)},
		{"dataBytes", fmt.Sprintf("%d", s.DataBytes)},
		{"indexEntries", fmt.Sprintf("%d", s.IndexEntries)},
	}, nil)
}

// writerCounters are the atomically updated fields a Writer accumulates
// during Append/AppendSlice/Finalize, snapshotted by Writer.Stats.
type writerCounters struct {
	slicesWritten  int64
	columnsWritten int64
}

// Stats returns a snapshot of w's write-side counters.
func (w *Writer) Stats() *Stats {
	return &Stats{
		BlocksWritten:  int64(len(w.index)),
		SlicesWritten:  atomic.LoadInt64(&w.counters.slicesWritten),
		ColumnsWritten: atomic.LoadInt64(&w.counters.columnsWritten),
		DataBytes:      w.dataOffset,
		IndexEntries:   int64(len(w.index)),
	}
}
