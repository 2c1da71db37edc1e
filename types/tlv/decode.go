package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned by Decode for input that does not follow the message grammar.
var ErrMalformed = errors.New("tlv: malformed message")

// Message is a decoded TLV message.
type Message struct {
	EventType  uint16
	BodyLength int
	// Segments lists the payload types in the order they appeared.
	Segments []PayloadType

	Name string
	// ValueType is PayloadULongMetric, PayloadDoubleMetric or PayloadHistogramAggregate.
	ValueType   PayloadType
	Timestamp   uint64
	ULongValue  uint64
	DoubleValue float64
	Histogram   *DecodedHistogram

	DimensionCount int
	Dimensions     []Attribute
	Exemplars      []DecodedExemplar

	Account   string
	Namespace string
}

// DecodedHistogram is the aggregate and bucket table of a histogram message.
type DecodedHistogram struct {
	Count   uint32
	Sum     uint64
	Min     uint64
	Max     uint64
	Buckets []Bucket
}

// Bucket is one entry of the histogram bucket table.
type Bucket struct {
	Bound uint64
	Count uint32
}

// DecodedExemplar is one exemplar record.
type DecodedExemplar struct {
	Flags       uint8
	IntValue    int64
	DoubleValue float64
	// UnixNano is the exemplar time in nanoseconds since the Unix epoch.
	UnixNano uint64
	TraceID  []byte
	SpanID   []byte
	Labels   []Attribute
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, len(r.buf)-r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) string() string {
	n := int(r.uint16())
	return string(r.take(n))
}

func (r *reader) base128String() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	n := int(b[0]&0x7f) | int(b[1])<<7
	return string(r.take(n))
}

func (r *reader) uvarint() uint64 {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b := r.uint8()
		if r.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v
		}
	}
	r.err = fmt.Errorf("%w: varint overflow", ErrMalformed)
	return 0
}

func (r *reader) varint() int64 {
	first := r.uint8()
	if r.err != nil {
		return 0
	}
	mag := uint64(first & 0x3f)
	if first&0x80 != 0 {
		mag |= r.uvarint() << 6
	}
	if first&0x40 != 0 {
		return -int64(mag)
	}
	return int64(mag)
}

// Decode parses a complete message, header included. It is independent of the
// encoder and only knows the wire grammar.
func Decode(msg []byte) (*Message, error) {
	r := &reader{buf: msg}
	m := &Message{
		EventType:  r.uint16(),
		BodyLength: int(r.uint16()),
	}
	if r.err != nil {
		return nil, r.err
	}
	if m.BodyLength != len(msg)-HeaderSize {
		return nil, fmt.Errorf("%w: header body length %d, actual %d", ErrMalformed, m.BodyLength, len(msg)-HeaderSize)
	}
	for r.pos < len(msg) && r.err == nil {
		tag := PayloadType(r.uint8())
		length := int(r.uint16())
		body := r.take(length)
		if r.err != nil {
			break
		}
		m.Segments = append(m.Segments, tag)
		sr := &reader{buf: body}
		if err := m.decodeSegment(tag, sr); err != nil {
			return nil, err
		}
		if sr.err != nil {
			return nil, fmt.Errorf("segment %d: %w", tag, sr.err)
		}
		if sr.pos != len(body) {
			return nil, fmt.Errorf("%w: segment %d declares %d bytes, used %d", ErrMalformed, tag, len(body), sr.pos)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func (m *Message) decodeSegment(tag PayloadType, r *reader) error {
	switch tag {
	case PayloadMetricName:
		m.Name = r.string()
	case PayloadAccountName:
		m.Account = r.string()
	case PayloadNamespace:
		m.Namespace = r.string()
	case PayloadULongMetric:
		m.ValueType = tag
		m.Timestamp = r.uint64()
		m.ULongValue = r.uint64()
	case PayloadDoubleMetric:
		m.ValueType = tag
		m.Timestamp = r.uint64()
		m.DoubleValue = math.Float64frombits(r.uint64())
	case PayloadHistogramAggregate:
		m.ValueType = tag
		if m.Histogram == nil {
			m.Histogram = &DecodedHistogram{}
		}
		m.Histogram.Count = r.uint32()
		r.uint32()
		m.Timestamp = r.uint64()
		m.Histogram.Sum = r.uint64()
		m.Histogram.Min = r.uint64()
		m.Histogram.Max = r.uint64()
	case PayloadHistogramBucketTable:
		if m.Histogram == nil {
			m.Histogram = &DecodedHistogram{}
		}
		n := int(r.uint16())
		for i := 0; i < n && r.err == nil; i++ {
			m.Histogram.Buckets = append(m.Histogram.Buckets, Bucket{Bound: r.uint64(), Count: r.uint32()})
		}
	case PayloadDimensions:
		n := int(r.uint16())
		m.DimensionCount = n
		keys := make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			keys = append(keys, r.string())
		}
		for _, k := range keys {
			m.Dimensions = append(m.Dimensions, Attribute{Key: k, Value: r.string()})
		}
	case PayloadExemplars:
		return m.decodeExemplars(r)
	default:
		return fmt.Errorf("%w: unknown segment type %d", ErrMalformed, tag)
	}
	return nil
}

func (m *Message) decodeExemplars(r *reader) error {
	if v := r.uint8(); v != exemplarsVersion {
		return fmt.Errorf("%w: exemplars version %d", ErrMalformed, v)
	}
	n := r.varint()
	for i := int64(0); i < n && r.err == nil; i++ {
		start := r.pos
		r.uint8()
		length := int(r.uint8())
		e := DecodedExemplar{Flags: r.uint8()}
		if e.Flags&ExemplarFlagIntegerValue != 0 {
			e.IntValue = r.varint()
		} else {
			e.DoubleValue = math.Float64frombits(r.uint64())
		}
		labels := int(r.uint8())
		e.UnixNano = r.uint64()
		if e.Flags&ExemplarFlagTraceID != 0 {
			e.TraceID = append([]byte(nil), r.take(traceIDSize)...)
		}
		if e.Flags&ExemplarFlagSpanID != 0 {
			e.SpanID = append([]byte(nil), r.take(spanIDSize)...)
		}
		for j := 0; j < labels && r.err == nil; j++ {
			e.Labels = append(e.Labels, Attribute{Key: r.base128String(), Value: r.base128String()})
		}
		if r.err == nil && r.pos-start != length {
			return fmt.Errorf("%w: exemplar %d declares %d bytes, used %d", ErrMalformed, i, length, r.pos-start)
		}
		m.Exemplars = append(m.Exemplars, e)
	}
	return nil
}
