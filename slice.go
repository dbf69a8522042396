package sstable

import "github.com/brimstore/sstable/columnkey"

// Slice is a run of columns sharing the same parent group and the same
// metadata: the unit of I/O framing and the unit compaction emits, per §3.
type Slice struct {
	StartKey columnkey.Key
	EndKey   columnkey.Key
	// NextKey is the on-disk next_key field. Writer.Append never sets it
	// (slices it writes carry nil), AppendSlice writes whatever the Slice
	// carries, and Scanner does not use it to skip slices.
	NextKey *columnkey.Key
	Meta    columnkey.Metadata
	Columns []columnkey.Column
}

// SliceBuffer is the type compaction.Iterator.Next returns: a fully
// buffered output slice ready to be appended to a new SST via
// Writer.AppendSlice. It is the same shape as Slice; the distinct name
// documents that, unlike a Slice read off a Scanner, its Columns are
// already final (post tombstone-GC) and it owns its own backing slices.
type SliceBuffer = Slice

func (s Slice) byteSize() int {
	n := columnkey.KeySize(s.StartKey) + columnkey.KeySize(s.EndKey)
	if s.NextKey != nil {
		n += columnkey.KeySize(*s.NextKey)
	}
	for _, c := range s.Columns {
		n += len(c.Name) + len(c.Value) + 32
	}
	return n
}

// roundedEnd returns s.EndKey with its name component at depth d-1
// replaced by NAME_END, per §4.2's natural-boundary rounding rule.
func roundedEnd(k columnkey.Key, d int) columnkey.Key {
	if d == 0 {
		return k
	}
	return k.WithNameAt(d-1, columnkey.NameEnd())
}

// roundedBegin returns s.StartKey with its name component at depth d-1
// replaced by NAME_BEGIN.
func roundedBegin(k columnkey.Key, d int) columnkey.Key {
	if d == 0 {
		return k
	}
	return k.WithNameAt(d-1, columnkey.NameBegin())
}
