package tlv

import (
	"errors"
	"math"
)

// ErrExemplarTooLarge is returned when a single exemplar record does not fit its one byte length.
var ErrExemplarTooLarge = errors.New("tlv: exemplar record exceeds 255 bytes")

// segment writes the tag, reserves the length and returns the patch to close once the body is written.
func (w *writer) segment(tag PayloadType) patch {
	w.uint8(uint8(tag))
	return w.reserve16()
}

func (w *writer) writeStringSegment(tag PayloadType, s string) {
	length := w.segment(tag)
	w.string(s)
	length.closeLength(w)
}

// writeScalar writes ULongMetric or DoubleMetric: timestamp then the raw 8 byte value.
func (w *writer) writeScalar(tag PayloadType, filetime uint64, bits uint64) {
	length := w.segment(tag)
	w.uint64(filetime)
	w.uint64(bits)
	length.closeLength(w)
}

// writeHistogram writes the aggregate segment followed by the bucket table.
func (w *writer) writeHistogram(filetime uint64, h *Histogram) {
	length := w.segment(PayloadHistogramAggregate)
	w.uint32(uint32(h.Count))
	// padding
	w.uint32(0)
	w.uint64(filetime)
	w.uint64(toUint64(h.Sum))
	w.uint64(toUint64(h.Min))
	w.uint64(toUint64(h.Max))
	length.closeLength(w)

	length = w.segment(PayloadHistogramBucketTable)
	items := w.reserve16()
	written := 0
	// lastBound is the bound of the last non-empty bucket written, the overflow
	// bucket reuses it plus one. With no explicit bucket written it starts at
	// the highest finite bound so the overflow boundary stays above every bound.
	var lastBound float64
	for _, bound := range h.Bounds {
		if !math.IsInf(bound, 1) {
			lastBound = bound
		}
	}
	for i, count := range h.BucketCounts {
		if count == 0 {
			continue
		}
		if i < len(h.Bounds) && !math.IsInf(h.Bounds[i], 1) {
			w.uint64(toUint64(h.Bounds[i]))
			lastBound = h.Bounds[i]
		} else {
			w.uint64(toUint64(lastBound + 1))
		}
		w.uint32(uint32(count))
		written++
	}
	items.set(w, written)
	length.closeLength(w)
}

// overrides holds the account and namespace captured from reserved dimensions.
type overrides struct {
	account   string
	namespace string
}

// writeDimensions writes the key-major dimension table: count, every key, then every value.
// Reserved keys are not written; their values are returned as overrides.
func (w *writer) writeDimensions(prepopulated, attrs []Attribute) overrides {
	var o overrides
	length := w.segment(PayloadDimensions)
	count := w.reserve16()
	written := 0
	for _, d := range prepopulated {
		w.string(d.Key)
		written++
	}
	for _, a := range attrs {
		if isReserved(a.Key) {
			continue
		}
		w.string(a.Key)
		written++
	}
	for _, d := range prepopulated {
		w.string(d.Value)
	}
	for _, a := range attrs {
		switch a.Key {
		case DimensionAccount:
			o.account = a.Value
		case DimensionNamespace:
			o.namespace = a.Value
		default:
			w.string(a.Value)
		}
	}
	count.set(w, written)
	length.closeLength(w)
	return o
}

func isReserved(key string) bool {
	return key == DimensionAccount || key == DimensionNamespace
}

// writeExemplars writes the exemplar table. Nothing is written for an empty list.
func (w *writer) writeExemplars(exemplars []Exemplar, isInteger bool) {
	if len(exemplars) == 0 {
		return
	}
	length := w.segment(PayloadExemplars)
	w.uint8(exemplarsVersion)
	w.varint(int64(len(exemplars)))
	for i := range exemplars {
		w.writeExemplar(&exemplars[i], isInteger)
	}
	length.closeLength(w)
}

func (w *writer) writeExemplar(e *Exemplar, isInteger bool) {
	w.uint8(exemplarRecordVersion)
	length := w.reserve8()
	flags := w.reserve8()

	f := ExemplarFlagTimestamp
	if isInteger {
		f |= ExemplarFlagIntegerValue
		w.varint(e.IntValue)
	} else {
		w.float64(e.DoubleValue)
	}

	labelCount := w.reserve8()
	w.uint64(unixNano(e.Time))
	if validID(e.TraceID, traceIDSize) {
		w.bytes(e.TraceID)
		f |= ExemplarFlagTraceID
	}
	if validID(e.SpanID, spanIDSize) {
		w.bytes(e.SpanID)
		f |= ExemplarFlagSpanID
	}
	if len(e.Labels) > math.MaxUint8 {
		w.fail(ErrExemplarTooLarge)
		return
	}
	for _, l := range e.Labels {
		w.base128String(l.Key)
		w.base128String(l.Value)
	}
	labelCount.set(w, len(e.Labels))
	flags.set(w, int(f))

	// The record length counts the version byte in front of the length byte.
	recordLen := w.pos - length.pos + 1
	if w.err == nil && recordLen > math.MaxUint8 {
		w.fail(ErrExemplarTooLarge)
		return
	}
	length.set(w, recordLen)
}

func validID(id []byte, size int) bool {
	if len(id) != size {
		return false
	}
	for _, b := range id {
		if b != 0 {
			return true
		}
	}
	return false
}

// toUint64 truncates toward zero. Negative and NaN values become 0 and values
// beyond the uint64 range saturate.
func toUint64(v float64) uint64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(v)
	}
}
