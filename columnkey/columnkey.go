// Package columnkey implements the hierarchical column key, its ordering,
// tombstone metadata, and the column priority rule used to resolve
// conflicting versions of the same logical row across SSTables.
//
// A Key has depth D (1 for a standard column family, 2 for a super column
// family): a decorated row key (PartitionKey) plus D ordered name
// components, the last of which is the column name and the earlier of
// which are parent group names. Comparison is parameterized by a depth d
// in [0, D], letting callers compare keys at the row level, the parent
// group level, or the full column level.
package columnkey

import "bytes"

// PartitionKey is the minimal contract required from an external
// partitioner: a comparison token plus the raw row key bytes it decorates.
// Two decorated keys compare first by Token, then by Raw.
type PartitionKey interface {
	Token() []byte
	Raw() []byte
}

// BytesPartitionKey is an identity partitioner: its token is the raw key
// bytes themselves. It is the default used by tests and cmd/sstbench and
// is adequate for any caller that does not need consistent-hashing
// placement, only a total order on row keys.
type BytesPartitionKey []byte

func (k BytesPartitionKey) Token() []byte { return k }
func (k BytesPartitionKey) Raw() []byte   { return k }

// ComparePartitionKeys orders two decorated keys: first by token, then by
// raw bytes.
func ComparePartitionKeys(a, b PartitionKey) int {
	if c := bytes.Compare(a.Token(), b.Token()); c != 0 {
		return c
	}
	return bytes.Compare(a.Raw(), b.Raw())
}

// nameKind distinguishes a real stored name component from the two
// sentinel values that bound natural subranges. Sentinels are never
// persisted for real data; see the ColumnKey record format in §6.
type nameKind uint8

const (
	nameReal nameKind = iota
	nameBegin
	nameEnd
)

// Name is a single name component: either a real byte string or one of
// the NameBegin/NameEnd sentinels that sort before/after every real name
// at that level.
type Name struct {
	kind  nameKind
	bytes []byte
}

// NameBegin sorts before every real name at a given level.
func NameBegin() Name { return Name{kind: nameBegin} }

// NameEnd sorts after every real name at a given level.
func NameEnd() Name { return Name{kind: nameEnd} }

// RealName wraps real stored name bytes.
func RealName(b []byte) Name { return Name{kind: nameReal, bytes: b} }

// IsBegin reports whether n is the NAME_BEGIN sentinel.
func (n Name) IsBegin() bool { return n.kind == nameBegin }

// IsEnd reports whether n is the NAME_END sentinel.
func (n Name) IsEnd() bool { return n.kind == nameEnd }

// Bytes returns the real name bytes, or nil for a sentinel.
func (n Name) Bytes() []byte { return n.bytes }

// Comparator totally orders real name bytes at one key level. It is never
// invoked for sentinel names; CompareNames handles those directly.
type Comparator func(a, b []byte) int

// BytesComparator is the default Comparator: plain lexicographic byte
// ordering, suitable for standard UTF8Type/BytesType column families.
func BytesComparator(a, b []byte) int { return bytes.Compare(a, b) }

// CompareNames orders two Name values under comparator cmp, honoring the
// NAME_BEGIN/NAME_END sentinels regardless of cmp.
func CompareNames(a, b Name, cmp Comparator) int {
	if a.kind != nameReal || b.kind != nameReal {
		if a.kind == b.kind {
			return 0
		}
		// NAME_BEGIN < real < NAME_END regardless of which side is the
		// sentinel.
		rank := func(n Name) int {
			switch n.kind {
			case nameBegin:
				return -1
			case nameEnd:
				return 1
			default:
				return 0
			}
		}
		ra, rb := rank(a), rank(b)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	}
	return cmp(a.bytes, b.bytes)
}

// Depth holds one Comparator per name level (0..D-1), allowing a super
// column family to use a different comparator for its super-column name
// than for its column name. This supplements the distilled spec, which
// names compareAt(nameA, nameB, i) as parameterized by level but does not
// name a type for the per-level configuration; see DESIGN.md.
type Depth []Comparator

// D returns the number of name levels.
func (d Depth) D() int { return len(d) }

// Key is a hierarchical column key: a decorated row key plus D ordered
// name components.
type Key struct {
	DK    PartitionKey
	Names []Name
}

// New builds a Key with real name components.
func New(dk PartitionKey, names ...[]byte) Key {
	ns := make([]Name, len(names))
	for i, n := range names {
		ns[i] = RealName(n)
	}
	return Key{DK: dk, Names: ns}
}

// Compare orders a against b at depth d: it first compares DK, then the
// first d name components under depth's comparators. d must be in
// [0, len(depth)]; comparisons at d == 0 only compare DK.
func (a Key) Compare(b Key, depth Depth, d int) int {
	if c := ComparePartitionKeys(a.DK, b.DK); c != 0 {
		return c
	}
	for i := 0; i < d; i++ {
		an, bn := nameAt(a, i), nameAt(b, i)
		if c := CompareNames(an, bn, depth[i]); c != 0 {
			return c
		}
	}
	return 0
}

func nameAt(k Key, i int) Name {
	if i < len(k.Names) {
		return k.Names[i]
	}
	return Name{}
}

// WithNameAt returns a copy of k with name level i replaced by n,
// extending Names if necessary. Used to round slice boundary keys to
// NAME_BEGIN/NAME_END at the leaf level (§4.2).
func (k Key) WithNameAt(i int, n Name) Key {
	names := make([]Name, len(k.Names))
	copy(names, k.Names)
	for len(names) <= i {
		names = append(names, Name{})
	}
	names[i] = n
	return Key{DK: k.DK, Names: names}
}

// SameParentGroup reports whether a and b share the same decorated key and
// agree on every name component above the leaf (depth D-1), i.e. whether
// they belong to the same natural subrange. At depth 1 that is the row.
func SameParentGroup(a, b Key, depth Depth) bool {
	if ComparePartitionKeys(a.DK, b.DK) != 0 {
		return false
	}
	d := len(depth)
	for i := 0; i < d-1; i++ {
		if CompareNames(nameAt(a, i), nameAt(b, i), depth[i]) != 0 {
			return false
		}
	}
	return true
}
