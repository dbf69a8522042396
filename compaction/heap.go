package compaction

import (
	"github.com/brimstore/sstable"
	"github.com/brimstore/sstable/columnkey"
)

// scannerHeap is a container/heap priority queue of scanners ordered by
// their current slice's StartKey, tie-broken by creation sequence so that
// the merge order of equal keys across a compaction is deterministic
// regardless of input ordering (§4.3's Ordering contract, §4.4 step 1).
type scannerHeap struct {
	items []*sstable.Scanner
	depth columnkey.Depth
}

func (h *scannerHeap) Len() int { return len(h.items) }

func (h *scannerHeap) Less(i, j int) bool {
	a, b := h.items[i].Get(), h.items[j].Get()
	if c := a.StartKey.Compare(b.StartKey, h.depth, h.depth.D()); c != 0 {
		return c < 0
	}
	return h.items[i].Seq() < h.items[j].Seq()
}

func (h *scannerHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *scannerHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*sstable.Scanner))
}

func (h *scannerHeap) Pop() interface{} {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}
