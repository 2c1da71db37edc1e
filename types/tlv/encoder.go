package tlv

import (
	"math"
	"sort"

	"github.com/grafana/genevaexporter/types"
)

// Encoder lays out one Point at a time into a buffer it owns. The buffer is
// allocated once and reused, so an Encoder must not be used concurrently and
// the bytes returned by Message are only valid until the next Encode.
type Encoder struct {
	w            writer
	account      string
	namespace    string
	prepopulated []Attribute
}

// NewEncoder returns an Encoder with the default account and namespace written
// into every message and the dimensions added in front of each point's own.
func NewEncoder(account, namespace string, prepopulated map[string]string) *Encoder {
	dims := make([]Attribute, 0, len(prepopulated))
	for k, v := range prepopulated {
		dims = append(dims, Attribute{Key: k, Value: v})
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Key < dims[j].Key })
	return &Encoder{
		w:            writer{buf: make([]byte, MaxMessageSize)},
		account:      account,
		namespace:    namespace,
		prepopulated: dims,
	}
}

// Encode writes p as a complete message and returns the body length, which
// excludes the header. On error the buffer contents are undefined.
func (e *Encoder) Encode(p *Point) (int, error) {
	w := &e.w
	w.reset(0)
	header := w.pos
	w.pos += HeaderSize

	w.writeStringSegment(PayloadMetricName, p.Name)

	ts := ToFileTime(p.Time)
	switch p.Kind {
	case KindIntSum:
		w.writeScalar(PayloadULongMetric, ts, uint64(p.IntValue))
	case KindIntGauge:
		w.writeScalar(PayloadDoubleMetric, ts, math.Float64bits(float64(p.IntValue)))
	case KindDoubleSum, KindDoubleGauge:
		w.writeScalar(PayloadDoubleMetric, ts, math.Float64bits(p.DoubleValue))
	case KindHistogram:
		w.writeHistogram(ts, &p.Histogram)
	default:
		return 0, ErrUnknownKind
	}

	o := w.writeDimensions(e.prepopulated, p.Attributes)
	w.writeExemplars(p.Exemplars, p.IntegerInstrument)

	account, namespace := e.account, e.namespace
	if o.account != "" {
		account = o.account
	}
	if o.namespace != "" {
		namespace = o.namespace
	}
	w.writeStringSegment(PayloadAccountName, account)
	w.writeStringSegment(PayloadNamespace, namespace)
	if w.err != nil {
		return 0, w.err
	}

	bodyLength := w.pos - HeaderSize
	putUint16(w.buf, header, uint16(types.EventTLV))
	putUint16(w.buf, header+2, uint16(bodyLength))
	return bodyLength, nil
}

// Bytes returns the whole encoding buffer.
func (e *Encoder) Bytes() []byte {
	return e.w.buf
}

// Message returns the header and body of the last encoded message.
func (e *Encoder) Message(bodyLength int) []byte {
	return e.w.buf[:HeaderSize+bodyLength]
}

// Account returns the default account written when a point does not override it.
func (e *Encoder) Account() string {
	return e.account
}

// Namespace returns the default namespace written when a point does not override it.
func (e *Encoder) Namespace() string {
	return e.namespace
}

// Destination returns the account and namespace p is written to, taking the
// reserved dimensions into account.
func (e *Encoder) Destination(p *Point) (account, namespace string) {
	account, namespace = e.account, e.namespace
	for _, a := range p.Attributes {
		switch a.Key {
		case DimensionAccount:
			account = a.Value
		case DimensionNamespace:
			namespace = a.Value
		}
	}
	return account, namespace
}
