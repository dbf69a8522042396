package sstable

import (
	"testing"

	"github.com/brimstore/sstable/columnkey"
)

func TestSearchIndexFindsLastEntryAtOrBeforeTarget(t *testing.T) {
	depth := testDepth1()
	entries := []indexEntry{
		{firstKey: columnkey.New(columnkey.BytesPartitionKey("b"), []byte("a"))},
		{firstKey: columnkey.New(columnkey.BytesPartitionKey("d"), []byte("a"))},
		{firstKey: columnkey.New(columnkey.BytesPartitionKey("f"), []byte("a"))},
	}
	cases := []struct {
		target string
		want   int
	}{
		{"a", -1},
		{"b", 0},
		{"c", 0},
		{"d", 1},
		{"e", 1},
		{"f", 2},
		{"z", 2},
	}
	for _, c := range cases {
		target := columnkey.New(columnkey.BytesPartitionKey(c.target), []byte("a"))
		got := searchIndex(entries, target, depth)
		if got != c.want {
			t.Errorf("searchIndex(%q) = %d, want %d", c.target, got, c.want)
		}
	}
}

func TestOpenReaderDownsamplesIndex(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "sst", testDepth1(), OptTargetMaxBlockBytes(64))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	meta := columnkey.EmptyMetadata(1)
	for i := 0; i < 40; i++ {
		k := columnkey.New(columnkey.BytesPartitionKey(string(rune('a'+i/26))+string(rune('a'+i%26))), []byte("a"))
		if err := w.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	r, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	denseBlocks := len(r.index)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if denseBlocks < 3 {
		t.Fatalf("expected several blocks from a tiny block size, got %d", denseBlocks)
	}

	// Re-finalize under a separate name so Close above (which already
	// removed the first triplet) doesn't race the reopen.
	w2, err := NewWriter(dir, "sst2", testDepth1(), OptTargetMaxBlockBytes(64))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 40; i++ {
		k := columnkey.New(columnkey.BytesPartitionKey(string(rune('a'+i/26))+string(rune('a'+i%26))), []byte("a"))
		if err := w2.Append(meta, k, columnkey.Column{Name: []byte("a"), Timestamp: 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := w2.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	sparse, err := OpenReader(dir, "sst2", testDepth1(), OptIndexInterval(2))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer sparse.Close()
	if len(sparse.index) >= denseBlocks {
		t.Fatalf("expected OpenReader with interval=2 to downsample below %d dense blocks, got %d", denseBlocks, len(sparse.index))
	}
}
