package tlv

import (
	"errors"
	"time"
)

// ErrUnknownKind is returned for a Point whose Kind is not one of the declared kinds.
var ErrUnknownKind = errors.New("tlv: unknown point kind")

// Kind selects how a Point is laid out on the wire.
type Kind uint8

const (
	// KindIntSum is a monotonic integer sum, written as ULongMetric.
	KindIntSum Kind = iota + 1
	// KindDoubleSum is any sum that can go negative or is floating point, written as DoubleMetric.
	KindDoubleSum
	// KindIntGauge is an integer gauge. It is converted to a double and written as DoubleMetric.
	KindIntGauge
	// KindDoubleGauge is a floating point gauge, written as DoubleMetric.
	KindDoubleGauge
	// KindHistogram is an explicit bucket histogram.
	KindHistogram
)

func (k Kind) String() string {
	switch k {
	case KindIntSum:
		return "int_sum"
	case KindDoubleSum:
		return "double_sum"
	case KindIntGauge:
		return "int_gauge"
	case KindDoubleGauge:
		return "double_gauge"
	case KindHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Attribute is one dimension of a point, or one label of an exemplar.
type Attribute struct {
	Key   string
	Value string
}

// Point is a single metric data point ready to be encoded. Only the fields that
// belong to Kind are read.
type Point struct {
	Name string
	Kind Kind
	Time time.Time

	// IntValue is used by KindIntSum and KindIntGauge.
	IntValue int64
	// DoubleValue is used by KindDoubleSum and KindDoubleGauge.
	DoubleValue float64
	// Histogram is used by KindHistogram.
	Histogram Histogram

	Attributes []Attribute
	Exemplars  []Exemplar
	// IntegerInstrument marks points produced by int64 instruments. Their
	// exemplars carry varint values even when the metric value is a double.
	IntegerInstrument bool
}

// Histogram is an explicit bucket histogram. BucketCounts has one more entry
// than Bounds, the last being the overflow bucket.
type Histogram struct {
	Count        uint64
	Sum          float64
	Min          float64
	Max          float64
	Bounds       []float64
	BucketCounts []uint64
}

// Exemplar is a raw measurement sampled alongside a point.
type Exemplar struct {
	Time        time.Time
	IntValue    int64
	DoubleValue float64
	// TraceID is written when it has 16 bytes and is not all zero.
	TraceID []byte
	// SpanID is written when it has 8 bytes and is not all zero.
	SpanID []byte
	Labels []Attribute
}
