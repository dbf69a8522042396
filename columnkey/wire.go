package columnkey

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ErrCorrupt is returned (wrapped with context) by every decode function
// in this file when the on-disk bytes do not match §6's record formats.
var ErrCorrupt = errors.New("columnkey: corrupt record")

const (
	nameDiscriminatorReal  = 0
	nameDiscriminatorBegin = 1
	nameDiscriminatorEnd   = 2
)

// WriteColumn appends the §6 Column record
// (name_len:u16 name:bytes timestamp:i64 flags:u8 value_len:u32 value:bytes)
// to buf and returns the result.
func WriteColumn(buf []byte, c Column) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], uint16(len(c.Name)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, c.Name...)
	binary.BigEndian.PutUint64(tmp[:8], uint64(c.Timestamp))
	buf = append(buf, tmp[:8]...)
	buf = append(buf, c.Flags)
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(c.Value)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, c.Value...)
	return buf
}

// ReadColumn decodes one Column record from buf, returning the column and
// the number of bytes consumed.
func ReadColumn(buf []byte) (Column, int, error) {
	if len(buf) < 2 {
		return Column{}, 0, errors.Wrap(ErrCorrupt, "column: short name length")
	}
	nameLen := int(binary.BigEndian.Uint16(buf))
	pos := 2
	if len(buf) < pos+nameLen+8+1+4 {
		return Column{}, 0, errors.Wrap(ErrCorrupt, "column: truncated header")
	}
	name := buf[pos : pos+nameLen]
	pos += nameLen
	ts := int64(binary.BigEndian.Uint64(buf[pos:]))
	pos += 8
	flags := buf[pos]
	pos++
	valueLen := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if len(buf) < pos+valueLen {
		return Column{}, 0, errors.Wrap(ErrCorrupt, "column: truncated value")
	}
	value := buf[pos : pos+valueLen]
	pos += valueLen
	c := Column{Name: name, Value: value, Timestamp: ts, Flags: flags}
	return c, pos, nil
}

// WriteColumnExt appends a Column record plus its ExpireAt/localDeletionTime
// trailer (i32), used whenever FlagTombstone or FlagExpiring is set so the
// GC-relevant second timestamp survives the round trip. For live columns
// with neither flag, WriteColumn's plain form is used and no trailer is
// written; ReadColumnExt handles both by inspecting the decoded flags.
func WriteColumnExt(buf []byte, c Column) []byte {
	buf = WriteColumn(buf, c)
	if c.IsTombstone() || c.IsExpiring() {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(c.ExpireAt))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// ReadColumnExt is the counterpart to WriteColumnExt.
func ReadColumnExt(buf []byte) (Column, int, error) {
	c, n, err := ReadColumn(buf)
	if err != nil {
		return c, n, err
	}
	if c.IsTombstone() || c.IsExpiring() {
		if len(buf) < n+4 {
			return Column{}, 0, errors.Wrap(ErrCorrupt, "column: truncated deletion-time trailer")
		}
		c.ExpireAt = int32(binary.BigEndian.Uint32(buf[n:]))
		n += 4
	}
	return c, n, nil
}

// WriteMetadata appends the §6 Metadata record (depth:u8 followed by
// depth pairs of (markedForDeleteAt:i64, localDeletionTime:i32)).
func WriteMetadata(buf []byte, m Metadata) []byte {
	buf = append(buf, byte(len(m.Marks)))
	var tmp [12]byte
	for _, mk := range m.Marks {
		binary.BigEndian.PutUint64(tmp[:8], uint64(mk.MarkedForDeleteAt))
		binary.BigEndian.PutUint32(tmp[8:12], uint32(mk.LocalDeletionTime))
		buf = append(buf, tmp[:12]...)
	}
	return buf
}

// ReadMetadata decodes one Metadata record, returning bytes consumed.
func ReadMetadata(buf []byte) (Metadata, int, error) {
	if len(buf) < 1 {
		return Metadata{}, 0, errors.Wrap(ErrCorrupt, "metadata: missing depth byte")
	}
	depth := int(buf[0])
	pos := 1
	if len(buf) < pos+depth*12 {
		return Metadata{}, 0, errors.Wrap(ErrCorrupt, "metadata: truncated marks")
	}
	m := Metadata{Marks: make([]DeleteMark, depth)}
	for i := 0; i < depth; i++ {
		off := pos + i*12
		m.Marks[i] = DeleteMark{
			MarkedForDeleteAt: int64(binary.BigEndian.Uint64(buf[off:])),
			LocalDeletionTime: int32(binary.BigEndian.Uint32(buf[off+8:])),
		}
	}
	return m, pos + depth*12, nil
}

// WriteKey appends the §6 ColumnKey record: dk_len:u16 dk_bytes
// name_count:u8 followed by name_count length-prefixed byte strings;
// sentinel names are encoded as length 0 with a discriminating flag byte.
func WriteKey(buf []byte, k Key) []byte {
	var tmp [2]byte
	token := k.DK.Raw()
	binary.BigEndian.PutUint16(tmp[:], uint16(len(token)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, token...)
	buf = append(buf, byte(len(k.Names)))
	for _, n := range k.Names {
		switch {
		case n.IsBegin():
			binary.BigEndian.PutUint16(tmp[:], 0)
			buf = append(buf, tmp[:]...)
			buf = append(buf, nameDiscriminatorBegin)
		case n.IsEnd():
			binary.BigEndian.PutUint16(tmp[:], 0)
			buf = append(buf, tmp[:]...)
			buf = append(buf, nameDiscriminatorEnd)
		default:
			binary.BigEndian.PutUint16(tmp[:], uint16(len(n.Bytes())))
			buf = append(buf, tmp[:]...)
			if len(n.Bytes()) == 0 {
				buf = append(buf, nameDiscriminatorReal)
			} else {
				buf = append(buf, n.Bytes()...)
				continue
			}
		}
	}
	return buf
}

// ReadKey decodes one ColumnKey record, returning the key (its DK raw
// bytes doubling as its token via BytesPartitionKey) and bytes consumed.
func ReadKey(buf []byte) (Key, int, error) {
	if len(buf) < 2 {
		return Key{}, 0, errors.Wrap(ErrCorrupt, "key: short dk length")
	}
	dkLen := int(binary.BigEndian.Uint16(buf))
	pos := 2
	if len(buf) < pos+dkLen+1 {
		return Key{}, 0, errors.Wrap(ErrCorrupt, "key: truncated dk")
	}
	dk := make([]byte, dkLen)
	copy(dk, buf[pos:pos+dkLen])
	pos += dkLen
	nameCount := int(buf[pos])
	pos++
	names := make([]Name, nameCount)
	for i := 0; i < nameCount; i++ {
		if len(buf) < pos+2 {
			return Key{}, 0, errors.Wrap(ErrCorrupt, "key: truncated name length")
		}
		nameLen := int(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
		if nameLen == 0 {
			if len(buf) < pos+1 {
				return Key{}, 0, errors.Wrap(ErrCorrupt, "key: missing name discriminator")
			}
			disc := buf[pos]
			pos++
			switch disc {
			case nameDiscriminatorBegin:
				names[i] = NameBegin()
			case nameDiscriminatorEnd:
				names[i] = NameEnd()
			default:
				names[i] = RealName(nil)
			}
			continue
		}
		if len(buf) < pos+nameLen {
			return Key{}, 0, errors.Wrap(ErrCorrupt, "key: truncated name bytes")
		}
		nb := make([]byte, nameLen)
		copy(nb, buf[pos:pos+nameLen])
		names[i] = RealName(nb)
		pos += nameLen
	}
	return Key{DK: BytesPartitionKey(dk), Names: names}, pos, nil
}

// KeySize returns the number of bytes WriteKey would append for k,
// without allocating, for pre-sizing buffers.
func KeySize(k Key) int {
	n := 2 + len(k.DK.Raw()) + 1
	for _, nm := range k.Names {
		n += 2
		if nm.IsBegin() || nm.IsEnd() || len(nm.Bytes()) == 0 {
			n += 1
		} else {
			n += len(nm.Bytes())
		}
	}
	return n
}
