package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/brimstore/sstable/columnkey"
)

// blockHeaderSize is length:u32 + codec_tag:u8 + reserved:u24.
const blockHeaderSize = 8

type blockHeader struct {
	length   uint32
	codecTag uint8
}

func writeBlockHeader(buf []byte, h blockHeader) []byte {
	var tmp [blockHeaderSize]byte
	binary.BigEndian.PutUint32(tmp[:4], h.length)
	tmp[4] = h.codecTag
	return append(buf, tmp[:]...)
}

func readBlockHeader(r io.Reader) (blockHeader, error) {
	var tmp [blockHeaderSize]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		if err == io.EOF {
			return blockHeader{}, io.EOF
		}
		return blockHeader{}, errors.Wrapf(ErrTransientIO, "block: read header: %v", err)
	}
	return blockHeader{
		length:   binary.BigEndian.Uint32(tmp[:4]),
		codecTag: tmp[4],
	}, nil
}

// encodeBlockPayload compresses raw per codec, returning the bytes to be
// written to disk after the BlockHeader.
func encodeBlockPayload(codec Codec, raw []byte) []byte {
	switch codec {
	case CodecSnappy:
		return snappy.Encode(nil, raw)
	default:
		return raw
	}
}

// decodeBlockPayload reverses encodeBlockPayload.
func decodeBlockPayload(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptSSTable, "block: snappy decode: %v", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Block continue/end status, per §6.
const (
	statusContinue byte = 0
	statusEnd      byte = 1
)

// sliceMark is the on-disk SliceMark header preceding a slice's serialized
// columns within a block, per §6.
type sliceMark struct {
	meta       columnkey.Metadata
	startKey   columnkey.Key
	endKey     columnkey.Key
	nextKey    *columnkey.Key
	payloadLen uint32
	colCount   uint32
	status     byte
}

func writeSliceMark(buf []byte, m sliceMark) []byte {
	buf = columnkey.WriteMetadata(buf, m.meta)
	buf = columnkey.WriteKey(buf, m.startKey)
	buf = columnkey.WriteKey(buf, m.endKey)
	if m.nextKey != nil {
		buf = append(buf, 1)
		buf = columnkey.WriteKey(buf, *m.nextKey)
	} else {
		buf = append(buf, 0)
	}
	var tmp [9]byte
	binary.BigEndian.PutUint32(tmp[:4], m.payloadLen)
	binary.BigEndian.PutUint32(tmp[4:8], m.colCount)
	tmp[8] = m.status
	buf = append(buf, tmp[:]...)
	return buf
}

func readSliceMark(buf []byte) (sliceMark, int, error) {
	var m sliceMark
	meta, n, err := columnkey.ReadMetadata(buf)
	if err != nil {
		return m, 0, err
	}
	pos := n
	m.meta = meta
	startKey, n, err := columnkey.ReadKey(buf[pos:])
	if err != nil {
		return m, 0, err
	}
	pos += n
	m.startKey = startKey
	endKey, n, err := columnkey.ReadKey(buf[pos:])
	if err != nil {
		return m, 0, err
	}
	pos += n
	m.endKey = endKey
	if pos >= len(buf) {
		return m, 0, errors.Wrap(ErrCorruptSSTable, "slicemark: truncated next-key presence flag")
	}
	hasNext := buf[pos]
	pos++
	if hasNext != 0 {
		nextKey, n, err := columnkey.ReadKey(buf[pos:])
		if err != nil {
			return m, 0, err
		}
		pos += n
		m.nextKey = &nextKey
	}
	if len(buf) < pos+9 {
		return m, 0, errors.Wrap(ErrCorruptSSTable, "slicemark: truncated trailer")
	}
	m.payloadLen = binary.BigEndian.Uint32(buf[pos : pos+4])
	m.colCount = binary.BigEndian.Uint32(buf[pos+4 : pos+8])
	m.status = buf[pos+8]
	pos += 9
	return m, pos, nil
}
