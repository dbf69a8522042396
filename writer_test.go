package sstable

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/brimstore/sstable/columnkey"
)

func testDepth1() columnkey.Depth {
	return columnkey.Depth{columnkey.BytesComparator}
}

func testDepth2() columnkey.Depth {
	return columnkey.Depth{columnkey.BytesComparator, columnkey.BytesComparator}
}

func TestWriterReaderRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	rows := []string{"row1", "row2", "row3"}
	for _, row := range rows {
		k := columnkey.New(columnkey.BytesPartitionKey(row), []byte("a"))
		col := columnkey.Column{Name: []byte("a"), Value: []byte("v-" + row), Timestamp: 1}
		if err := w.Append(meta, k, col); err != nil {
			t.Fatalf("Append(%s): %v", row, err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()

	s, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s.Close()

	var got []string
	for s.Get() != nil {
		sl := s.Get()
		if len(sl.Columns) != 1 {
			t.Fatalf("expected 1 column per slice, got %d", len(sl.Columns))
		}
		got = append(got, string(sl.Columns[0].Value))
		ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d slices, got %d (%v)", len(rows), len(got), got)
	}
	for i, row := range rows {
		want := "v-" + row
		if got[i] != want {
			t.Fatalf("slice %d: got %q, want %q", i, got[i], want)
		}
	}
}

func TestAppendRejectsOutOfOrderKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Abandon()
	meta := columnkey.EmptyMetadata(1)
	k1 := columnkey.New(columnkey.BytesPartitionKey("row2"), []byte("a"))
	k2 := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("a"))
	if err := w.Append(meta, k1, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = w.Append(meta, k2, columnkey.Column{Name: []byte("a"), Timestamp: 1})
	if err == nil {
		t.Fatal("expected ErrInputOrderViolation, got nil")
	}
}

func TestAppendAfterFinalizeReturnsErrWriterClosed(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	k := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("a"))
	if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()
	err = w.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 2})
	if !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	err = w.AppendSlice(Slice{StartKey: k, EndKey: k, Meta: meta})
	if !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed from AppendSlice, got %v", err)
	}
}

func TestAppendSliceRejectsOversizedSlice(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1(), OptTargetMaxSliceBytes(64))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Abandon()
	meta := columnkey.EmptyMetadata(1)
	k := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("a"))
	cols := []columnkey.Column{
		{Name: []byte("a"), Value: make([]byte, 200), Timestamp: 1},
	}
	err = w.AppendSlice(Slice{StartKey: k, EndKey: k, Meta: meta, Columns: cols})
	if !errors.Is(err, ErrBoundedResourceExhaustion) {
		t.Fatalf("expected ErrBoundedResourceExhaustion, got %v", err)
	}
}

func TestNaturalBoundaryRoundsToNameSentinels(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth2())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(2)
	k1 := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("super"), []byte("a"))
	k2 := columnkey.New(columnkey.BytesPartitionKey("row2"), []byte("super"), []byte("b"))
	if err := w.Append(meta, k1, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := w.Append(meta, k2, columnkey.Column{Name: []byte("b"), Timestamp: 1}); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()

	s, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s.Close()

	first := s.Get()
	if first == nil {
		t.Fatal("expected a first slice")
	}
	if !first.EndKey.Names[1].IsEnd() {
		t.Fatalf("first slice's end key should be rounded to NAME_END, got %+v", first.EndKey.Names[1])
	}
	ok, err := s.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	second := s.Get()
	if second == nil {
		t.Fatal("expected a second slice")
	}
	if !second.StartKey.Names[1].IsBegin() {
		t.Fatalf("second slice's start key should be rounded to NAME_BEGIN, got %+v", second.StartKey.Names[1])
	}
}

func TestAbandonRemovesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	k := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("a"))
	if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := OpenReader(dir, "sst", testDepth1()); err == nil {
		t.Fatal("expected OpenReader to fail after Abandon")
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	rows := []string{"alpha", "bravo", "charlie", "delta"}
	for _, row := range rows {
		k := columnkey.New(columnkey.BytesPartitionKey(row), []byte("a"))
		if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()

	for _, row := range rows {
		k := columnkey.New(columnkey.BytesPartitionKey(row), []byte("a"))
		if !r.MightContain(k, []byte("a")) {
			t.Fatalf("bloom filter false negative for %s", row)
		}
	}
}

func TestSeekToFindsSlice(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	rows := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, row := range rows {
		k := columnkey.New(columnkey.BytesPartitionKey(row), []byte("a"))
		if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Value: []byte(row), Timestamp: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()

	s, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s.Close()

	target := columnkey.New(columnkey.BytesPartitionKey("charlie"), []byte("a"))
	ok, err := s.SeekTo(target)
	if err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if !ok {
		t.Fatal("SeekTo: expected to find a slice")
	}
	if string(s.Get().Columns[0].Value) != "charlie" {
		t.Fatalf("SeekTo landed on %q, want charlie", s.Get().Columns[0].Value)
	}

	s2, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s2.Close()
	ok, err = s2.SeekTo(target, []byte("no-such-column"))
	if err != nil {
		t.Fatalf("SeekTo with column hint: %v", err)
	}
	if ok {
		t.Fatal("SeekTo: expected a conclusive negative from the bloom filter for an absent column name")
	}

	s3, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s3.Close()
	ok, err = s3.SeekTo(target, []byte("a"))
	if err != nil {
		t.Fatalf("SeekTo with matching column hint: %v", err)
	}
	if !ok || string(s3.Get().Columns[0].Value) != "charlie" {
		t.Fatal("SeekTo with a present column hint must still find the slice")
	}
}

func TestNamesFilterSkipsUnmatchedColumns(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	k := columnkey.New(columnkey.BytesPartitionKey("row1"), []byte("a"))
	if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Value: []byte("keep"), Timestamp: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer r.Close()

	s, err := r.NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s.Close()
	s.SetColumnFilter(NewNamesFilter(testDepth1(), []byte("other")))
	if err := s.decodeCurrent(); err != nil {
		t.Fatalf("decodeCurrent: %v", err)
	}
	if len(s.Get().Columns) != 0 {
		t.Fatalf("expected filter to drop the unmatched column, got %d", len(s.Get().Columns))
	}
}
