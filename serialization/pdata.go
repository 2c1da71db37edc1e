package serialization

import (
	"context"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"

	"github.com/grafana/genevaexporter/types/tlv"
)

// SerializePdata is Serialize for collector pipelines.
func (s *Serializer) SerializePdata(ctx context.Context, md pmetric.Metrics) error {
	b := &batch{}
	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		sms := rms.At(i).ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			ms := sms.At(j).Metrics()
			for k := 0; k < ms.Len(); k++ {
				s.serializePdataMetric(ctx, b, ms.At(k))
			}
		}
	}
	return s.finish(b)
}

func (s *Serializer) serializePdataMetric(ctx context.Context, b *batch, m pmetric.Metric) {
	switch m.Type() {
	case pmetric.MetricTypeSum:
		sum := m.Sum()
		s.serializeNumberSlice(ctx, b, m.Name(), sum.DataPoints(), func(isInt bool) tlv.Kind {
			if isInt && sum.IsMonotonic() {
				return tlv.KindIntSum
			}
			return tlv.KindDoubleSum
		})
	case pmetric.MetricTypeGauge:
		s.serializeNumberSlice(ctx, b, m.Name(), m.Gauge().DataPoints(), func(isInt bool) tlv.Kind {
			if isInt {
				return tlv.KindIntGauge
			}
			return tlv.KindDoubleGauge
		})
	case pmetric.MetricTypeHistogram:
		s.serializeHistogramSlice(ctx, b, m.Name(), m.Histogram().DataPoints())
	case pmetric.MetricTypeExponentialHistogram:
		s.unsupported(ctx, b, m.Name(), "exponential_histogram", m.ExponentialHistogram().DataPoints().Len())
	case pmetric.MetricTypeSummary:
		s.unsupported(ctx, b, m.Name(), "summary", m.Summary().DataPoints().Len())
	default:
		s.unsupported(ctx, b, m.Name(), m.Type().String(), 1)
	}
}

func (s *Serializer) serializeNumberSlice(ctx context.Context, b *batch, name string, dps pmetric.NumberDataPointSlice, kindOf func(isInt bool) tlv.Kind) {
	var p tlv.Point
	for i := 0; i < dps.Len(); i++ {
		if b.cancelled(ctx) {
			continue
		}
		dp := dps.At(i)
		isInt := dp.ValueType() == pmetric.NumberDataPointValueTypeInt
		p = tlv.Point{
			Name:              name,
			Kind:              kindOf(isInt),
			Time:              dp.Timestamp().AsTime(),
			Attributes:        pdataAttributes(dp.Attributes()),
			Exemplars:         pdataExemplars(dp.Exemplars()),
			IntegerInstrument: isInt,
		}
		switch {
		case !isInt:
			p.DoubleValue = dp.DoubleValue()
		case p.Kind == tlv.KindDoubleSum:
			p.DoubleValue = float64(dp.IntValue())
		default:
			p.IntValue = dp.IntValue()
		}
		s.emit(b, &p)
	}
}

func (s *Serializer) serializeHistogramSlice(ctx context.Context, b *batch, name string, dps pmetric.HistogramDataPointSlice) {
	var p tlv.Point
	for i := 0; i < dps.Len(); i++ {
		if b.cancelled(ctx) {
			continue
		}
		dp := dps.At(i)
		p = tlv.Point{
			Name: name,
			Kind: tlv.KindHistogram,
			Time: dp.Timestamp().AsTime(),
			Histogram: tlv.Histogram{
				Count:        dp.Count(),
				Bounds:       dp.ExplicitBounds().AsRaw(),
				BucketCounts: dp.BucketCounts().AsRaw(),
			},
			Attributes: pdataAttributes(dp.Attributes()),
			Exemplars:  pdataExemplars(dp.Exemplars()),
		}
		if dp.HasSum() {
			p.Histogram.Sum = dp.Sum()
		}
		if dp.HasMin() {
			p.Histogram.Min = dp.Min()
		}
		if dp.HasMax() {
			p.Histogram.Max = dp.Max()
		}
		s.emit(b, &p)
	}
}

func pdataAttributes(m pcommon.Map) []tlv.Attribute {
	if m.Len() == 0 {
		return nil
	}
	out := make([]tlv.Attribute, 0, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out = append(out, tlv.Attribute{Key: k, Value: v.AsString()})
		return true
	})
	return out
}

func pdataExemplars(es pmetric.ExemplarSlice) []tlv.Exemplar {
	if es.Len() == 0 {
		return nil
	}
	out := make([]tlv.Exemplar, es.Len())
	for i := 0; i < es.Len(); i++ {
		e := es.At(i)
		ex := tlv.Exemplar{
			Time:   e.Timestamp().AsTime(),
			Labels: pdataAttributes(e.FilteredAttributes()),
		}
		// The wire value follows the point type, which may differ from the exemplar's.
		switch e.ValueType() {
		case pmetric.ExemplarValueTypeInt:
			ex.IntValue = e.IntValue()
			ex.DoubleValue = float64(ex.IntValue)
		case pmetric.ExemplarValueTypeDouble:
			ex.DoubleValue = e.DoubleValue()
			ex.IntValue = int64(ex.DoubleValue)
		}
		if tid := e.TraceID(); !tid.IsEmpty() {
			ex.TraceID = tid[:]
		}
		if sid := e.SpanID(); !sid.IsEmpty() {
			ex.SpanID = sid[:]
		}
		out[i] = ex
	}
	return out
}
