package tlv

import (
	"errors"
	"math"
)

var (
	// ErrBufferFull is returned when a message does not fit into MaxMessageSize.
	ErrBufferFull = errors.New("tlv: message exceeds buffer capacity")
	// ErrValueTooLong is returned when a string or table is longer than its length prefix can express.
	ErrValueTooLong = errors.New("tlv: value too long for its length prefix")
)

const maxBase128StringLen = 1<<14 - 1

// writer is a cursor over a fixed buffer. The first failed write sticks in err
// and every later write becomes a no-op, so encode paths only check err once.
type writer struct {
	buf []byte
	pos int
	err error
}

func (w *writer) reset(pos int) {
	w.pos = pos
	w.err = nil
}

func (w *writer) fits(n int) bool {
	if w.err != nil {
		return false
	}
	if w.pos+n > len(w.buf) {
		w.err = ErrBufferFull
		return false
	}
	return true
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) uint8(v uint8) {
	if w.fits(1) {
		w.pos = putUint8(w.buf, w.pos, v)
	}
}

func (w *writer) uint16(v uint16) {
	if w.fits(2) {
		w.pos = putUint16(w.buf, w.pos, v)
	}
}

func (w *writer) uint32(v uint32) {
	if w.fits(4) {
		w.pos = putUint32(w.buf, w.pos, v)
	}
}

func (w *writer) uint64(v uint64) {
	if w.fits(8) {
		w.pos = putUint64(w.buf, w.pos, v)
	}
}

func (w *writer) float64(v float64) {
	if w.fits(8) {
		w.pos = putFloat64(w.buf, w.pos, v)
	}
}

func (w *writer) bytes(b []byte) {
	if w.fits(len(b)) {
		w.pos += copy(w.buf[w.pos:], b)
	}
}

func (w *writer) string(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(ErrValueTooLong)
		return
	}
	if w.fits(2 + len(s)) {
		w.pos = putString(w.buf, w.pos, s)
	}
}

func (w *writer) base128String(s string) {
	if len(s) > maxBase128StringLen {
		w.fail(ErrValueTooLong)
		return
	}
	if w.fits(2 + len(s)) {
		w.pos = putBase128String(w.buf, w.pos, s)
	}
}

func (w *writer) uvarint(v uint64) {
	if w.fits(uvarintSize(v)) {
		w.pos = putUvarint(w.buf, w.pos, v)
	}
}

func (w *writer) varint(v int64) {
	if w.fits(varintSize(v)) {
		w.pos = putVarint(w.buf, w.pos, v)
	}
}

// patch is a placeholder reserved in the buffer that must be overwritten once
// the value it stands for is known.
type patch struct {
	pos   int
	width int
}

// reserve16 reserves a uint16 placeholder.
func (w *writer) reserve16() patch {
	p := patch{pos: w.pos, width: 2}
	w.uint16(0)
	return p
}

// reserve8 reserves a single byte placeholder.
func (w *writer) reserve8() patch {
	p := patch{pos: w.pos, width: 1}
	w.uint8(0)
	return p
}

// end returns the first byte after the placeholder.
func (p patch) end() int {
	return p.pos + p.width
}

// set overwrites the placeholder with v.
func (p patch) set(w *writer, v int) {
	if w.err != nil {
		return
	}
	switch p.width {
	case 1:
		if v > math.MaxUint8 {
			w.fail(ErrValueTooLong)
			return
		}
		putUint8(w.buf, p.pos, uint8(v))
	case 2:
		if v > math.MaxUint16 {
			w.fail(ErrValueTooLong)
			return
		}
		putUint16(w.buf, p.pos, uint16(v))
	}
}

// closeLength sets the placeholder to the number of bytes written after it.
func (p patch) closeLength(w *writer) {
	p.set(w, w.pos-p.end())
}
