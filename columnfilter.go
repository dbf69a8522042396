package sstable

import "github.com/brimstore/sstable/columnkey"

// FilterAction is the verdict a ColumnFilter returns for a slice range, per
// §4.5.
type FilterAction uint8

const (
	// MatchContinue means the scanner should decode and test this slice's
	// columns individually.
	MatchContinue FilterAction = iota
	// NoMatchDone means nothing further in the scan can match; the scanner
	// should stop.
	NoMatchDone
	// Seek means the scanner should jump directly to the accompanying key
	// instead of scanning intervening slices.
	Seek
)

// FilterDecision is the result of ColumnFilter.MatchesBetween: an action
// plus, when Action is Seek, the target key to jump to.
type FilterDecision struct {
	Action FilterAction
	Target columnkey.Key
}

// ColumnFilter lets a Scanner narrow what it returns during point reads,
// per §4.5; see Scanner.SetColumnFilter for which decisions it acts on.
// Compaction never installs one: it must see every column.
type ColumnFilter interface {
	// MatchesBetween is consulted once per slice, given its start and end
	// keys, to decide whether to skip, scan, or seek ahead.
	MatchesBetween(begin, end columnkey.Key) FilterDecision
	// Matches reports whether an individual column name satisfies the
	// filter, consulted while scanning a slice whose MatchesBetween
	// returned MatchContinue.
	Matches(name []byte) bool
}

// NamesFilter matches an explicit set of column names: the common case for
// a point read that wants a handful of named columns out of a row,
// grounded on original_source's NamesQueryFilter.
type NamesFilter struct {
	names map[string]struct{}
	depth columnkey.Depth
}

// NewNamesFilter builds a NamesFilter over names. depth is stored on the
// filter; MatchesBetween does not compare slice ranges with it.
func NewNamesFilter(depth columnkey.Depth, names ...[]byte) *NamesFilter {
	f := &NamesFilter{names: make(map[string]struct{}, len(names)), depth: depth}
	for _, n := range names {
		f.names[string(n)] = struct{}{}
	}
	return f
}

// MatchesBetween reports MatchContinue whenever [begin, end] could contain
// one of the filter's names; it never narrows by range since column names
// are compared only at the leaf level, not ordered against the slice
// bounds independently, so every slice in range must be decoded.
func (f *NamesFilter) MatchesBetween(begin, end columnkey.Key) FilterDecision {
	return FilterDecision{Action: MatchContinue}
}

// Matches reports whether name is one of the filter's target column names.
func (f *NamesFilter) Matches(name []byte) bool {
	_, ok := f.names[string(name)]
	return ok
}
