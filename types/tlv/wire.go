package tlv

import (
	"encoding/binary"
	"math"
)

// The put* functions write a single value at pos and return the advanced cursor.
// None of them check capacity, the writer type does that before calling them.

func putUint8(buf []byte, pos int, v uint8) int {
	buf[pos] = v
	return pos + 1
}

func putUint16(buf []byte, pos int, v uint16) int {
	binary.LittleEndian.PutUint16(buf[pos:], v)
	return pos + 2
}

func putUint32(buf []byte, pos int, v uint32) int {
	binary.LittleEndian.PutUint32(buf[pos:], v)
	return pos + 4
}

func putUint64(buf []byte, pos int, v uint64) int {
	binary.LittleEndian.PutUint64(buf[pos:], v)
	return pos + 8
}

func putFloat64(buf []byte, pos int, v float64) int {
	return putUint64(buf, pos, math.Float64bits(v))
}

// putString writes a uint16 byte count followed by the UTF-8 bytes of s.
// An empty string is a single zero uint16.
func putString(buf []byte, pos int, s string) int {
	if len(s) == 0 {
		return putUint16(buf, pos, 0)
	}
	lengthPos := pos
	pos += 2
	n := copy(buf[pos:], s)
	putUint16(buf, lengthPos, uint16(n))
	return pos + n
}

// putUvarint is the plain base-128 encoding, low bits first.
func putUvarint(buf []byte, pos int, v uint64) int {
	for v >= 0x80 {
		buf[pos] = byte(v) | 0x80
		pos++
		v >>= 7
	}
	buf[pos] = byte(v)
	return pos + 1
}

// putVarint writes the backend's signed variant: the first byte carries six
// magnitude bits, the sign (0x40) and the continuation bit (0x80).
func putVarint(buf []byte, pos int, v int64) int {
	var sign byte
	mag := uint64(v)
	if v < 0 {
		sign = 0x40
		mag = uint64(-v)
	}
	first := byte(mag&0x3f) | sign
	mag >>= 6
	if mag == 0 {
		buf[pos] = first
		return pos + 1
	}
	buf[pos] = first | 0x80
	return putUvarint(buf, pos+1, mag)
}

// putBase128String prefixes s with a two byte length: low 7 bits | 0x80, then the high bits.
func putBase128String(buf []byte, pos int, s string) int {
	if len(s) == 0 {
		return putUint16(buf, pos, 0)
	}
	n := len(s)
	buf[pos] = byte(n&0x7f) | 0x80
	buf[pos+1] = byte(n >> 7)
	pos += 2
	return pos + copy(buf[pos:], s)
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func varintSize(v int64) int {
	mag := uint64(v)
	if v < 0 {
		mag = uint64(-v)
	}
	mag >>= 6
	if mag == 0 {
		return 1
	}
	return 1 + uvarintSize(mag)
}
