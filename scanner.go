package sstable

import (
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/gholt/brimutil.v1"

	"github.com/brimstore/sstable/columnkey"
)

// Scanner is a forward iterator over one SST's slices in key order, per
// §4.3. It is not thread-safe; each caller must hold its own Scanner.
type Scanner struct {
	r   *Reader
	fp  brimutil.ChecksummedReader
	seq int64

	blockIdx     int
	blockPayload []byte
	posInBlock   int

	cur        *Slice
	curMarkLen int
	curStatus  byte

	filter ColumnFilter
	atEOF  bool
}

// Seq returns the scanner's monotonic creation sequence, used to
// tie-break the priority queue ordering of §4.3's "Ordering" contract
// when two scanners' current slice keys compare equal.
func (s *Scanner) Seq() int64 { return s.seq }

// Get returns the scanner's current slice, or nil at EOF.
func (s *Scanner) Get() *Slice {
	if s.atEOF {
		return nil
	}
	return s.cur
}

// loadBlock seeks to and reads block idx's header and payload.
func (s *Scanner) loadBlock(idx int) error {
	e := s.r.index[idx]
	if _, err := s.fp.Seek(e.dataOffset, io.SeekStart); err != nil {
		return errors.Wrapf(ErrTransientIO, "scanner: seek block: %v", err)
	}
	h, err := readBlockHeader(s.fp)
	if err != nil {
		return errors.Wrapf(ErrCorruptSSTable, "scanner: read block header: %v", err)
	}
	raw := make([]byte, h.length)
	if _, err := io.ReadFull(s.fp, raw); err != nil {
		return errors.Wrapf(ErrCorruptSSTable, "scanner: read block payload: %v", err)
	}
	payload, err := decodeBlockPayload(Codec(h.codecTag), raw)
	if err != nil {
		return err
	}
	s.blockIdx = idx
	s.blockPayload = payload
	s.posInBlock = 0
	return nil
}

// decodeCurrent parses the SliceMark at posInBlock and, unless a column
// filter rules the slice out entirely, its columns.
func (s *Scanner) decodeCurrent() error {
	if s.posInBlock >= len(s.blockPayload) {
		return errors.Wrap(ErrCorruptSSTable, "scanner: block ended without statusEnd slice")
	}
	mark, n, err := readSliceMark(s.blockPayload[s.posInBlock:])
	if err != nil {
		return err
	}
	payloadStart := s.posInBlock + n
	payloadEnd := payloadStart + int(mark.payloadLen)
	if payloadEnd > len(s.blockPayload) {
		return errors.Wrap(ErrCorruptSSTable, "scanner: slice payload overruns block")
	}
	s.curMarkLen = n + int(mark.payloadLen)
	s.curStatus = mark.status

	if s.filter != nil {
		decision := s.filter.MatchesBetween(mark.startKey, mark.endKey)
		if decision.Action == NoMatchDone {
			s.cur = nil
			s.atEOF = true
			return nil
		}
	}

	cols := make([]columnkey.Column, 0, mark.colCount)
	payload := s.blockPayload[payloadStart:payloadEnd]
	pos := 0
	for i := uint32(0); i < mark.colCount; i++ {
		c, cn, err := columnkey.ReadColumnExt(payload[pos:])
		if err != nil {
			return err
		}
		if s.filter == nil || s.filter.Matches(c.Name) {
			cols = append(cols, c)
		}
		pos += cn
	}
	s.cur = &Slice{
		StartKey: mark.startKey,
		EndKey:   mark.endKey,
		NextKey:  mark.nextKey,
		Meta:     mark.meta,
		Columns:  cols,
	}
	return nil
}

// Next advances to the following slice, returning false at EOF.
func (s *Scanner) Next() (bool, error) {
	if s.atEOF {
		return false, nil
	}
	s.posInBlock += s.curMarkLen
	if s.curStatus == statusEnd || s.posInBlock >= len(s.blockPayload) {
		next := s.blockIdx + 1
		if next >= len(s.r.index) {
			s.atEOF = true
			s.cur = nil
			return false, nil
		}
		if err := s.loadBlock(next); err != nil {
			return false, err
		}
	}
	if err := s.decodeCurrent(); err != nil {
		return false, err
	}
	if s.atEOF {
		return false, nil
	}
	return true, nil
}

// SeekTo positions the scanner at the first slice whose EndKey is >= key,
// never moving backward. It returns false if no such slice exists before
// EOF. columnName is an optional hint: when given, the filter is keyed on
// (key, columnName) exactly like MightContain, and a conclusive negative
// short-circuits before the sparse index and intra-block scan even run,
// per §4.3. Omit it for a row-only seek, which has nothing to probe the
// filter with and goes straight to the index.
func (s *Scanner) SeekTo(key columnkey.Key, columnName ...[]byte) (bool, error) {
	if s.atEOF {
		return false, nil
	}
	if len(columnName) > 0 && !s.r.MightContain(key, columnName[0]) {
		return false, nil
	}
	d := s.r.depth.D()
	if idx := searchIndex(s.r.index, key, s.r.depth); idx > s.blockIdx {
		if err := s.loadBlock(idx); err != nil {
			return false, err
		}
		if err := s.decodeCurrent(); err != nil {
			return false, err
		}
		if s.atEOF {
			return false, nil
		}
	}
	for s.cur.EndKey.Compare(key, s.r.depth, d) < 0 {
		ok, err := s.Next()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// SetColumnFilter installs filter, consulted per slice, per §4.5. A
// NoMatchDone decision ends the scan; MatchContinue and Seek both decode the
// slice and keep only the columns whose names Matches accepts. A Seek
// target is not followed.
func (s *Scanner) SetColumnFilter(filter ColumnFilter) {
	s.filter = filter
}

// BytesRemaining approximates the bytes between the current position and
// EOF, for compaction progress reporting.
func (s *Scanner) BytesRemaining() int64 {
	if s.atEOF {
		return 0
	}
	return s.r.dataSize - s.r.index[s.blockIdx].dataOffset
}

// Close releases the scanner's file handle and its reference on the
// Reader.
func (s *Scanner) Close() error {
	err := s.fp.Close()
	s.r.Unref()
	return err
}
