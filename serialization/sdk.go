package serialization

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/grafana/genevaexporter/types/tlv"
)

// Serialize encodes and sends every data point of rm. A failing point does not
// stop the batch; the returned error wraps ErrExportFailed when any point failed.
func (s *Serializer) Serialize(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	b := &batch{}
	if rm == nil {
		return s.finish(b)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			s.serializeMetric(ctx, b, m)
		}
	}
	return s.finish(b)
}

func (s *Serializer) serializeMetric(ctx context.Context, b *batch, m metricdata.Metrics) {
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		kind := tlv.KindDoubleSum
		if data.IsMonotonic {
			kind = tlv.KindIntSum
		}
		serializeNumbers(ctx, s, b, m.Name, kind, data.DataPoints)
	case metricdata.Sum[float64]:
		serializeNumbers(ctx, s, b, m.Name, tlv.KindDoubleSum, data.DataPoints)
	case metricdata.Gauge[int64]:
		serializeNumbers(ctx, s, b, m.Name, tlv.KindIntGauge, data.DataPoints)
	case metricdata.Gauge[float64]:
		serializeNumbers(ctx, s, b, m.Name, tlv.KindDoubleGauge, data.DataPoints)
	case metricdata.Histogram[int64]:
		serializeHistograms(ctx, s, b, m.Name, data.DataPoints)
	case metricdata.Histogram[float64]:
		serializeHistograms(ctx, s, b, m.Name, data.DataPoints)
	case metricdata.ExponentialHistogram[int64]:
		s.unsupported(ctx, b, m.Name, "exponential_histogram", len(data.DataPoints))
	case metricdata.ExponentialHistogram[float64]:
		s.unsupported(ctx, b, m.Name, "exponential_histogram", len(data.DataPoints))
	case metricdata.Summary:
		s.unsupported(ctx, b, m.Name, "summary", len(data.DataPoints))
	default:
		s.unsupported(ctx, b, m.Name, fmt.Sprintf("%T", m.Data), 1)
	}
}

func (s *Serializer) unsupported(ctx context.Context, b *batch, name, kind string, points int) {
	for i := 0; i < points; i++ {
		if b.cancelled(ctx) {
			continue
		}
		s.fail(b, name, fmt.Errorf("%w: %s", errUnsupported, kind))
	}
}

func serializeNumbers[N int64 | float64](ctx context.Context, s *Serializer, b *batch, name string, kind tlv.Kind, dps []metricdata.DataPoint[N]) {
	var p tlv.Point
	for i := range dps {
		if b.cancelled(ctx) {
			continue
		}
		dp := &dps[i]
		p = tlv.Point{
			Name:       name,
			Kind:       kind,
			Time:       dp.Time,
			Attributes: attributes(dp.Attributes),
			Exemplars:  exemplars(dp.Exemplars),
		}
		setValue(&p, dp.Value)
		s.emit(b, &p)
	}
}

// setValue stores v in the field the point's kind reads.
func setValue[N int64 | float64](p *tlv.Point, v N) {
	switch v := any(v).(type) {
	case int64:
		p.IntegerInstrument = true
		if p.Kind == tlv.KindDoubleSum {
			p.DoubleValue = float64(v)
		} else {
			p.IntValue = v
		}
	case float64:
		p.DoubleValue = v
	}
}

func serializeHistograms[N int64 | float64](ctx context.Context, s *Serializer, b *batch, name string, dps []metricdata.HistogramDataPoint[N]) {
	var p tlv.Point
	for i := range dps {
		if b.cancelled(ctx) {
			continue
		}
		dp := &dps[i]
		p = tlv.Point{
			Name: name,
			Kind: tlv.KindHistogram,
			Time: dp.Time,
			Histogram: tlv.Histogram{
				Count:        dp.Count,
				Sum:          float64(dp.Sum),
				Bounds:       dp.Bounds,
				BucketCounts: dp.BucketCounts,
			},
			Attributes: attributes(dp.Attributes),
			Exemplars:  exemplars(dp.Exemplars),
		}
		if v, ok := dp.Min.Value(); ok {
			p.Histogram.Min = float64(v)
		}
		if v, ok := dp.Max.Value(); ok {
			p.Histogram.Max = float64(v)
		}
		_, p.IntegerInstrument = any(dp.Sum).(int64)
		s.emit(b, &p)
	}
}

func attributes(set attribute.Set) []tlv.Attribute {
	if set.Len() == 0 {
		return nil
	}
	out := make([]tlv.Attribute, 0, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out = append(out, tlv.Attribute{Key: string(kv.Key), Value: kv.Value.Emit()})
	}
	return out
}

func exemplars[N int64 | float64](in []metricdata.Exemplar[N]) []tlv.Exemplar {
	if len(in) == 0 {
		return nil
	}
	out := make([]tlv.Exemplar, len(in))
	for i, e := range in {
		ex := tlv.Exemplar{
			Time:    e.Time,
			TraceID: e.TraceID,
			SpanID:  e.SpanID,
		}
		switch v := any(e.Value).(type) {
		case int64:
			ex.IntValue = v
		case float64:
			ex.DoubleValue = v
		}
		if len(e.FilteredAttributes) > 0 {
			ex.Labels = make([]tlv.Attribute, len(e.FilteredAttributes))
			for j, kv := range e.FilteredAttributes {
				ex.Labels[j] = tlv.Attribute{Key: string(kv.Key), Value: kv.Value.Emit()}
			}
		}
		out[i] = ex
	}
	return out
}
