package sstable

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"

	"github.com/brimstore/sstable/columnkey"
)

// filterHash derives the bloom filter probe key for a (column key at depth
// D, column name) pair: the key's encoded bytes concatenated with the
// column name, per §3's filter sizing over "(key x column-name) hashes".
func filterHash(k columnkey.Key, columnName []byte) []byte {
	buf := columnkey.WriteKey(make([]byte, 0, columnkey.KeySize(k)+len(columnName)), k)
	buf = append(buf, columnName...)
	return buf
}

// newFilter builds an empty bloom filter sized per the heuristic of §9:
// columnsPerKeyHint bits per expected key, hashCount hash functions.
// expectedKeys of zero still yields a usable (if oversized-per-bit) filter.
func newFilter(expectedKeys uint, cfg *config) *bloom.BloomFilter {
	m := cfg.columnsPerKeyHint * (expectedKeys + 1)
	return bloom.New(m, cfg.hashCount)
}

// writeFilterFile serializes bf as a length-prefixed blob: u32 length
// followed by the filter's own self-describing WriteTo encoding (bit
// count, hash count, bitset bytes).
func writeFilterFile(w io.Writer, bf *bloom.BloomFilter) error {
	var body bytes.Buffer
	if _, err := bf.WriteTo(&body); err != nil {
		return errors.Wrapf(ErrTransientIO, "filter: serialize: %v", err)
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(body.Len()))
	if _, err := w.Write(tmp[:]); err != nil {
		return errors.Wrapf(ErrTransientIO, "filter: write length: %v", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrapf(ErrTransientIO, "filter: write body: %v", err)
	}
	return nil
}

// readFilterFile is the counterpart to writeFilterFile.
func readFilterFile(r io.Reader) (*bloom.BloomFilter, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, errors.Wrapf(ErrCorruptSSTable, "filter: read length: %v", err)
	}
	n := binary.BigEndian.Uint32(tmp[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrapf(ErrCorruptSSTable, "filter: read body: %v", err)
	}
	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(body)); err != nil {
		return nil, errors.Wrapf(ErrCorruptSSTable, "filter: deserialize: %v", err)
	}
	return bf, nil
}

// probeFilter reports whether k's leaf column name might be present,
// consulting bf. A false result is conclusive (no false negatives); true
// requires confirmation via the sparse index and data file.
func probeFilter(bf *bloom.BloomFilter, k columnkey.Key, columnName []byte) bool {
	if bf == nil {
		return true
	}
	return bf.Test(filterHash(k, columnName))
}
