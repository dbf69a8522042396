package compaction

import (
	"testing"

	"github.com/brimstore/sstable"
	"github.com/brimstore/sstable/columnkey"
)

func depth1() columnkey.Depth {
	return columnkey.Depth{columnkey.BytesComparator}
}

func depth2() columnkey.Depth {
	return columnkey.Depth{columnkey.BytesComparator, columnkey.BytesComparator}
}

func key(row string) columnkey.Key {
	return columnkey.New(columnkey.BytesPartitionKey(row), []byte("a"))
}

func writeSST(t *testing.T, dir, name string, cols []columnkey.Column, meta columnkey.Metadata) *sstable.Reader {
	t.Helper()
	w, err := sstable.NewWriter(dir, name, depth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	k := key("row1")
	for _, c := range cols {
		if err := w.Append(meta, k, c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return r
}

func scannerFor(t *testing.T, r *sstable.Reader) *sstable.Scanner {
	t.Helper()
	s, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

func drain(t *testing.T, it *Iterator) []*sstable.SliceBuffer {
	t.Helper()
	var out []*sstable.SliceBuffer
	for {
		s, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if s == nil {
			return out
		}
		out = append(out, s)
	}
}

func TestIteratorPicksHigherPriorityColumn(t *testing.T) {
	dir := t.TempDir()
	live := columnkey.Column{Name: []byte("a"), Value: []byte("v1"), Timestamp: 5}
	tomb := columnkey.Column{Name: []byte("a"), Value: nil, Timestamp: 10, Flags: columnkey.FlagTombstone, ExpireAt: 100}

	r1 := writeSST(t, dir, "sst1", []columnkey.Column{live}, columnkey.EmptyMetadata(1))
	r2 := writeSST(t, dir, "sst2", []columnkey.Column{tomb}, columnkey.EmptyMetadata(1))

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r1), scannerFor(t, r2)}, depth1(), OptMajor(false))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) != 1 {
		t.Fatalf("expected 1 output slice, got %d", len(out))
	}
	if len(out[0].Columns) != 1 {
		t.Fatalf("expected 1 surviving column, got %d", len(out[0].Columns))
	}
	got := out[0].Columns[0]
	if got.Timestamp != 10 || !got.IsTombstone() {
		t.Fatalf("expected the ts=10 tombstone to win, got %+v", got)
	}
}

func TestMinorCompactionRetainsTombstone(t *testing.T) {
	dir := t.TempDir()
	tomb := columnkey.Column{Name: []byte("a"), Timestamp: 10, Flags: columnkey.FlagTombstone, ExpireAt: 100}
	r := writeSST(t, dir, "sst1", []columnkey.Column{tomb}, columnkey.EmptyMetadata(1))

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth1(), OptMajor(false), OptGCBefore(200))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) != 1 || len(out[0].Columns) != 1 {
		t.Fatalf("minor compaction must retain the tombstone, got %+v", out)
	}
}

func TestMajorCompactionDropsTombstoneAndEmptySlice(t *testing.T) {
	dir := t.TempDir()
	tomb := columnkey.Column{Name: []byte("a"), Timestamp: 10, Flags: columnkey.FlagTombstone, ExpireAt: 100}
	r := writeSST(t, dir, "sst1", []columnkey.Column{tomb}, columnkey.EmptyMetadata(1))

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth1(), OptMajor(true), OptGCBefore(200))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) != 0 {
		t.Fatalf("major compaction past gcBefore must drop the slice entirely, got %d slices", len(out))
	}
	st := it.Stats()
	if st.SlicesDropped != 1 || st.ColumnsDropped != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestMajorCompactionRetainsTombstoneBeforeGCBefore(t *testing.T) {
	dir := t.TempDir()
	tomb := columnkey.Column{Name: []byte("a"), Timestamp: 10, Flags: columnkey.FlagTombstone, ExpireAt: 100}
	r := writeSST(t, dir, "sst1", []columnkey.Column{tomb}, columnkey.EmptyMetadata(1))

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth1(), OptMajor(true), OptGCBefore(50))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) != 1 || len(out[0].Columns) != 1 {
		t.Fatalf("tombstone newer than gcBefore must survive major compaction, got %+v", out)
	}
}

func TestAncestorTombstoneShadowsOlderColumn(t *testing.T) {
	dir := t.TempDir()
	live := columnkey.Column{Name: []byte("a"), Value: []byte("v1"), Timestamp: 5}
	meta := columnkey.Metadata{Marks: []columnkey.DeleteMark{{MarkedForDeleteAt: 20, LocalDeletionTime: 20}}}
	r := writeSST(t, dir, "sst1", []columnkey.Column{live}, meta)

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth1(), OptMajor(false))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	for _, sl := range out {
		if len(sl.Columns) != 0 {
			t.Fatalf("a column older than its ancestor's tombstone must never surface, got %+v", sl.Columns)
		}
	}
	if len(out) != 1 || out[0].Meta.Marks[0].MarkedForDeleteAt != 20 {
		t.Fatalf("minor compaction must keep the ancestor tombstone's metadata, got %+v", out)
	}
}

func TestIteratorSplitsOutputOnSizeCap(t *testing.T) {
	dir := t.TempDir()
	meta := columnkey.EmptyMetadata(1)
	w, err := sstable.NewWriter(dir, "sst1", depth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	k := key("row1")
	names := []string{"a", "b", "c", "d", "e", "f"}
	val := make([]byte, 100)
	for _, n := range names {
		col := columnkey.Column{Name: []byte(n), Value: val, Timestamp: 1}
		if err := w.Append(meta, k, col); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth1(), OptTargetMaxSliceBytes(250))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) < 2 {
		t.Fatalf("expected the uniform-metadata run to split into multiple output slices under a tight size cap, got %d", len(out))
	}
	var total int
	for _, sl := range out {
		if !sl.Meta.Equal(meta) {
			t.Fatalf("split output must preserve the parent group's metadata unchanged, got %+v", sl.Meta)
		}
		total += len(sl.Columns)
	}
	if total != len(names) {
		t.Fatalf("expected %d total columns across split outputs, got %d", len(names), total)
	}
}

func TestIteratorSplitsOnRowBoundaryAtDepth2(t *testing.T) {
	dir := t.TempDir()
	w, err := sstable.NewWriter(dir, "sst1", depth2())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(2)
	rows := []string{"row1", "row2", "row3"}
	for _, row := range rows {
		k := columnkey.New(columnkey.BytesPartitionKey(row), []byte("super"), []byte("a"))
		if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Value: []byte("v"), Timestamp: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	it, err := NewIterator([]*sstable.Scanner{scannerFor(t, r)}, depth2())
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	out := drain(t, it)
	if len(out) != len(rows) {
		t.Fatalf("expected %d output slices (one per row), got %d", len(rows), len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].StartKey.Compare(out[i].StartKey, depth2(), 2) >= 0 {
			t.Fatalf("output slices not strictly increasing at index %d", i)
		}
	}
}
