package compaction

import (
	"github.com/brimstore/sstable"
	"github.com/brimstore/sstable/columnkey"
)

type entryKind uint8

const (
	entryMetadata entryKind = iota
	entryColumn
)

// bufferNode is one tagged entry in the merge buffer: either a
// MetadataEntry (a parent group's resolved ancestor tombstones, keyed at
// the group's first column key) or a ColumnEntry (one column at its full
// leaf key), per §4.4.
type bufferNode struct {
	kind entryKind
	key  columnkey.Key
	meta columnkey.Metadata
	col  columnkey.Column

	prev, next int32
}

const nilIdx int32 = -1

// mergeBuffer is the arena-backed doubly-linked list that accumulates
// tagged entries from every scanner whose current slice key is no greater
// than the global minimum, in sorted order, per §4.4's "merge buffer"
// design. Freed nodes are recycled via freeList rather than shrinking the
// backing slice, mirroring the teacher's indexed slab-allocation pattern
// (valuesLocBlocks indexed by id) applied to list nodes instead of value
// blocks.
type mergeBuffer struct {
	nodes    []bufferNode
	freeList []int32
	head     int32
	tail     int32
	depth    columnkey.Depth
}

func newMergeBuffer(depth columnkey.Depth) *mergeBuffer {
	return &mergeBuffer{head: nilIdx, tail: nilIdx, depth: depth}
}

func (b *mergeBuffer) empty() bool { return b.head == nilIdx }

func (b *mergeBuffer) frontKey() (columnkey.Key, bool) {
	if b.head == nilIdx {
		return columnkey.Key{}, false
	}
	return b.nodes[b.head].key, true
}

func (b *mergeBuffer) alloc(n bufferNode) int32 {
	if l := len(b.freeList); l > 0 {
		idx := b.freeList[l-1]
		b.freeList = b.freeList[:l-1]
		b.nodes[idx] = n
		return idx
	}
	b.nodes = append(b.nodes, n)
	return int32(len(b.nodes) - 1)
}

// insertBefore splices a new node holding n immediately before the node at
// at, or at the tail if at == nilIdx.
func (b *mergeBuffer) insertBefore(at int32, n bufferNode) int32 {
	idx := b.alloc(n)
	if at == nilIdx {
		b.nodes[idx].prev = b.tail
		b.nodes[idx].next = nilIdx
		if b.tail != nilIdx {
			b.nodes[b.tail].next = idx
		} else {
			b.head = idx
		}
		b.tail = idx
		return idx
	}
	prev := b.nodes[at].prev
	b.nodes[idx].prev = prev
	b.nodes[idx].next = at
	b.nodes[at].prev = idx
	if prev != nilIdx {
		b.nodes[prev].next = idx
	} else {
		b.head = idx
	}
	return idx
}

// popFront removes and returns the buffer's head node.
func (b *mergeBuffer) popFront() (bufferNode, bool) {
	if b.head == nilIdx {
		return bufferNode{}, false
	}
	idx := b.head
	n := b.nodes[idx]
	b.head = n.next
	if b.head != nilIdx {
		b.nodes[b.head].prev = nilIdx
	} else {
		b.tail = nilIdx
	}
	b.freeList = append(b.freeList, idx)
	return n, true
}

// compareNodes orders a before b by key, then by MetadataEntry before
// ColumnEntry on an equal key (§4.4: "MetadataEntry sorts before
// ColumnEntry at the same key").
func compareNodes(a, b bufferNode, depth columnkey.Depth) int {
	if c := a.key.Compare(b.key, depth, depth.D()); c != 0 {
		return c
	}
	if a.kind == b.kind {
		return 0
	}
	if a.kind == entryMetadata {
		return -1
	}
	return 1
}

// merge splices incoming, an already key-sorted run of nodes drawn from a
// single input slice, into the buffer in place: the classic merge of two
// sorted sequences, colliding equal (key, kind) pairs in place per §4.1's
// resolution rules (Metadata.Resolve, Column.ComparePriority).
func (b *mergeBuffer) merge(incoming []bufferNode) {
	i := 0
	cur := b.head
	for i < len(incoming) {
		if cur == nilIdx {
			for ; i < len(incoming); i++ {
				b.insertBefore(nilIdx, incoming[i])
			}
			return
		}
		cmp := compareNodes(b.nodes[cur], incoming[i], b.depth)
		switch {
		case cmp == 0:
			if incoming[i].kind == entryMetadata {
				b.nodes[cur].meta = b.nodes[cur].meta.Resolve(incoming[i].meta)
			} else if incoming[i].col.ComparePriority(b.nodes[cur].col) > 0 {
				b.nodes[cur].col = incoming[i].col
			}
			i++
			cur = b.nodes[cur].next
		case cmp < 0:
			cur = b.nodes[cur].next
		default:
			b.insertBefore(cur, incoming[i])
			i++
		}
	}
}

// buildIncoming converts a scanner's current slice into the sorted node
// run merge expects: a MetadataEntry at the slice's start key followed by
// one ColumnEntry per column, each reconstructed to its full leaf key by
// substituting the column's own name into the slice's parent-group key
// (§4.1: a slice's columns share a parent group but not necessarily a
// leaf name).
func buildIncoming(s *sstable.Slice, depth columnkey.Depth) []bufferNode {
	out := make([]bufferNode, 0, len(s.Columns)+1)
	out = append(out, bufferNode{kind: entryMetadata, key: s.StartKey, meta: s.Meta})
	leaf := depth.D() - 1
	for _, c := range s.Columns {
		key := s.StartKey.WithNameAt(leaf, columnkey.RealName(c.Name))
		out = append(out, bufferNode{kind: entryColumn, key: key, col: c})
	}
	return out
}
