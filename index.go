package sstable

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/brimstore/sstable/columnkey"
)

// indexEntry locates one block: the first key written to it (its full
// depth-D key, a superset of §6's "names[0..D-2]" sufficient for both
// parent-group boundary comparisons and precise binary search) plus the
// block's offset within the index file and the data file.
type indexEntry struct {
	firstKey   columnkey.Key
	indexOff   int64
	dataOffset int64
}

func writeIndexEntry(buf []byte, e indexEntry) []byte {
	buf = columnkey.WriteKey(buf, e.firstKey)
	var tmp [16]byte
	binary.BigEndian.PutUint64(tmp[:8], uint64(e.indexOff))
	binary.BigEndian.PutUint64(tmp[8:16], uint64(e.dataOffset))
	return append(buf, tmp[:]...)
}

func readIndexEntry(buf []byte) (indexEntry, int, error) {
	k, n, err := columnkey.ReadKey(buf)
	if err != nil {
		return indexEntry{}, 0, err
	}
	if len(buf) < n+16 {
		return indexEntry{}, 0, errors.Wrap(ErrCorruptSSTable, "index: truncated entry trailer")
	}
	e := indexEntry{
		firstKey:   k,
		indexOff:   int64(binary.BigEndian.Uint64(buf[n : n+8])),
		dataOffset: int64(binary.BigEndian.Uint64(buf[n+8 : n+16])),
	}
	return e, n + 16, nil
}

// readIndexFile decodes every dense IndexEntry from r (one per block, per
// §6), then downsamples to every interval-th entry for the in-memory
// sparse structure binary-searched on open, per §4.3.
func readIndexFile(r io.Reader, interval int) ([]indexEntry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(ErrTransientIO, "index: read: %v", err)
	}
	var dense []indexEntry
	pos := 0
	for pos < len(raw) {
		e, n, err := readIndexEntry(raw[pos:])
		if err != nil {
			return nil, err
		}
		dense = append(dense, e)
		pos += n
	}
	if interval <= 1 {
		return dense, nil
	}
	sparse := make([]indexEntry, 0, len(dense)/interval+1)
	for i := 0; i < len(dense); i += interval {
		sparse = append(sparse, dense[i])
	}
	return sparse, nil
}

// searchIndex returns the index of the last entry whose firstKey is <= target
// at depth d, or -1 if target sorts before every entry.
func searchIndex(entries []indexEntry, target columnkey.Key, depth columnkey.Depth) int {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].firstKey.Compare(target, depth, depth.D()) > 0
	})
	return i - 1
}
