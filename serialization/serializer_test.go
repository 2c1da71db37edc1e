package serialization

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

// fakeTransport decodes every message it is handed.
type fakeTransport struct {
	t        *testing.T
	messages []*tlv.Message
	failFor  string
}

func (f *fakeTransport) Send(event types.EventType, buf []byte, bodyLength int) error {
	require.Equal(f.t, types.EventTLV, event)
	msg, err := tlv.Decode(buf[:tlv.HeaderSize+bodyLength])
	require.NoError(f.t, err)
	if msg.Name == f.failFor {
		return errors.New("agent unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

var now = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func newTestSerializer(t *testing.T, ft *fakeTransport, stats *[]types.SerializerStats) *Serializer {
	s, err := NewSerializer(tlv.NewEncoder("acct", "ns", nil), ft, func(st types.SerializerStats) {
		if stats != nil {
			*stats = append(*stats, st)
		}
	}, 16, log.NewNopLogger())
	require.NoError(t, err)
	return s
}

func resourceMetrics(metrics ...metricdata.Metrics) *metricdata.ResourceMetrics {
	return &metricdata.ResourceMetrics{
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Scope:   instrumentation.Scope{Name: "test"},
			Metrics: metrics,
		}},
	}
}

func TestSerializeKinds(t *testing.T) {
	ft := &fakeTransport{t: t}
	var stats []types.SerializerStats
	s := newTestSerializer(t, ft, &stats)

	rm := resourceMetrics(
		metricdata.Metrics{Name: "requests", Data: metricdata.Sum[int64]{
			IsMonotonic: true,
			Temporality: metricdata.DeltaTemporality,
			DataPoints: []metricdata.DataPoint[int64]{{
				Attributes: attribute.NewSet(attribute.String("region", "eu"), attribute.String(tlv.DimensionAccount, "override")),
				Time:       now,
				Value:      42,
			}},
		}},
		metricdata.Metrics{Name: "queue_depth", Data: metricdata.Sum[int64]{
			DataPoints: []metricdata.DataPoint[int64]{{Time: now, Value: -3}},
		}},
		metricdata.Metrics{Name: "cpu", Data: metricdata.Gauge[float64]{
			DataPoints: []metricdata.DataPoint[float64]{{Time: now, Value: 0.75}},
		}},
		metricdata.Metrics{Name: "threads", Data: metricdata.Gauge[int64]{
			DataPoints: []metricdata.DataPoint[int64]{{Time: now, Value: 12}},
		}},
		metricdata.Metrics{Name: "latency", Data: metricdata.Histogram[float64]{
			DataPoints: []metricdata.HistogramDataPoint[float64]{{
				Time:         now,
				Count:        5,
				Sum:          31.5,
				Bounds:       []float64{10, 20},
				BucketCounts: []uint64{3, 0, 2},
				Min:          metricdata.NewExtrema(1.0),
				Max:          metricdata.NewExtrema(25.0),
			}},
		}},
	)
	require.NoError(t, s.Serialize(context.Background(), rm))
	require.Len(t, ft.messages, 5)

	req := ft.messages[0]
	require.Equal(t, "requests", req.Name)
	require.Equal(t, tlv.PayloadULongMetric, req.ValueType)
	require.Equal(t, uint64(42), req.ULongValue)
	require.Equal(t, 1, req.DimensionCount)
	require.Equal(t, "override", req.Account)
	require.Equal(t, "ns", req.Namespace)

	require.Equal(t, tlv.PayloadDoubleMetric, ft.messages[1].ValueType)
	require.Equal(t, float64(-3), ft.messages[1].DoubleValue)
	require.Equal(t, 0.75, ft.messages[2].DoubleValue)
	require.Equal(t, float64(12), ft.messages[3].DoubleValue)

	h := ft.messages[4]
	require.Equal(t, tlv.PayloadHistogramAggregate, h.ValueType)
	require.Equal(t, uint64(31), h.Histogram.Sum)
	require.Equal(t, uint64(25), h.Histogram.Max)
	require.Equal(t, []tlv.Bucket{{Bound: 10, Count: 3}, {Bound: 11, Count: 2}}, h.Histogram.Buckets)

	require.Len(t, stats, 1)
	require.Equal(t, 5, stats[0].PointsEncoded)
	require.Equal(t, 0, stats[0].PointsFailed)
	require.Equal(t, 1, stats[0].HistogramsSent)
	require.Equal(t, now.Unix(), stats[0].NewestTimestampSeconds)
}

func TestSerializeExemplars(t *testing.T) {
	ft := &fakeTransport{t: t}
	s := newTestSerializer(t, ft, nil)
	traceID := []byte{0xa, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	rm := resourceMetrics(metricdata.Metrics{Name: "requests", Data: metricdata.Sum[int64]{
		IsMonotonic: true,
		DataPoints: []metricdata.DataPoint[int64]{{
			Time:  now,
			Value: 7,
			Exemplars: []metricdata.Exemplar[int64]{{
				FilteredAttributes: []attribute.KeyValue{attribute.String("user", "u1"), attribute.Int("code", 200)},
				Time:               now,
				Value:              3,
				TraceID:            traceID,
			}},
		}},
	}})
	require.NoError(t, s.Serialize(context.Background(), rm))
	require.Len(t, ft.messages, 1)
	require.Len(t, ft.messages[0].Exemplars, 1)

	ex := ft.messages[0].Exemplars[0]
	require.Equal(t, tlv.ExemplarFlagIntegerValue|tlv.ExemplarFlagTimestamp|tlv.ExemplarFlagTraceID, ex.Flags)
	require.Equal(t, int64(3), ex.IntValue)
	require.Equal(t, []tlv.Attribute{{Key: "user", Value: "u1"}, {Key: "code", Value: "200"}}, ex.Labels)
}

func TestCapacityExceededThenSuccess(t *testing.T) {
	ft := &fakeTransport{t: t}
	var stats []types.SerializerStats
	s := newTestSerializer(t, ft, &stats)

	kvs := make([]attribute.KeyValue, 0, 40)
	for i := 0; i < 40; i++ {
		kvs = append(kvs, attribute.String(strings.Repeat("k", i+1), strings.Repeat("v", 2000)))
	}
	rm := resourceMetrics(metricdata.Metrics{Name: "wide", Data: metricdata.Gauge[float64]{
		DataPoints: []metricdata.DataPoint[float64]{
			{Attributes: attribute.NewSet(kvs...), Time: now, Value: 1},
			{Time: now, Value: 2},
		},
	}})
	err := s.Serialize(context.Background(), rm)
	require.ErrorIs(t, err, ErrExportFailed)
	require.Len(t, ft.messages, 1)
	require.Equal(t, float64(2), ft.messages[0].DoubleValue)

	require.Len(t, stats, 1)
	require.Equal(t, 1, stats[0].PointsFailed)
	require.Equal(t, 1, stats[0].BufferFull)
	require.Equal(t, 1, stats[0].PointsEncoded)
}

func TestTransportFailureIsolated(t *testing.T) {
	ft := &fakeTransport{t: t, failFor: "bad"}
	s := newTestSerializer(t, ft, nil)
	rm := resourceMetrics(
		metricdata.Metrics{Name: "bad", Data: metricdata.Gauge[float64]{DataPoints: []metricdata.DataPoint[float64]{{Time: now}}}},
		metricdata.Metrics{Name: "good", Data: metricdata.Gauge[float64]{DataPoints: []metricdata.DataPoint[float64]{{Time: now}}}},
	)
	err := s.Serialize(context.Background(), rm)
	require.ErrorIs(t, err, ErrExportFailed)
	require.Contains(t, err.Error(), "1 of 2")
	require.Len(t, ft.messages, 1)
	require.Equal(t, "good", ft.messages[0].Name)
}

func TestUnsupportedAggregations(t *testing.T) {
	ft := &fakeTransport{t: t}
	var stats []types.SerializerStats
	s := newTestSerializer(t, ft, &stats)
	rm := resourceMetrics(
		metricdata.Metrics{Name: "exp", Data: metricdata.ExponentialHistogram[float64]{
			DataPoints: []metricdata.ExponentialHistogramDataPoint[float64]{{Time: now}, {Time: now}},
		}},
		metricdata.Metrics{Name: "summary", Data: metricdata.Summary{
			DataPoints: []metricdata.SummaryDataPoint{{Time: now}},
		}},
		metricdata.Metrics{Name: "ok", Data: metricdata.Gauge[int64]{DataPoints: []metricdata.DataPoint[int64]{{Time: now, Value: 1}}}},
	)
	err := s.Serialize(context.Background(), rm)
	require.ErrorIs(t, err, ErrExportFailed)
	require.Len(t, ft.messages, 1)
	require.Equal(t, 3, stats[0].UnsupportedPoints)
	require.Equal(t, 3, stats[0].PointsFailed)
}

func TestCancelledContext(t *testing.T) {
	ft := &fakeTransport{t: t}
	var stats []types.SerializerStats
	s := newTestSerializer(t, ft, &stats)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rm := resourceMetrics(metricdata.Metrics{Name: "g", Data: metricdata.Gauge[float64]{
		DataPoints: []metricdata.DataPoint[float64]{{Time: now}, {Time: now}},
	}})
	err := s.Serialize(ctx, rm)
	require.ErrorIs(t, err, ErrExportFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, ft.messages)
	require.Equal(t, 2, stats[0].PointsFailed)
}

func TestEmptyBatch(t *testing.T) {
	ft := &fakeTransport{t: t}
	s := newTestSerializer(t, ft, nil)
	require.NoError(t, s.Serialize(context.Background(), &metricdata.ResourceMetrics{}))
	require.NoError(t, s.Serialize(context.Background(), nil))
}

func TestFailureLogDedupe(t *testing.T) {
	fl, err := newFailureLog(4)
	require.NoError(t, err)
	require.True(t, fl.firstSeen("a", "n", "m"))
	require.False(t, fl.firstSeen("a", "n", "m"))
	require.True(t, fl.firstSeen("a", "n2", "m"))
	require.True(t, fl.firstSeen("a", "n", "m2"))
}

func TestFailureLoggedWithPointDestination(t *testing.T) {
	var buf bytes.Buffer
	ft := &fakeTransport{t: t, failFor: "requests"}
	s, err := NewSerializer(tlv.NewEncoder("acct", "ns", nil), ft, nil, 16, log.NewLogfmtLogger(&buf))
	require.NoError(t, err)

	rm := resourceMetrics(metricdata.Metrics{Name: "requests", Data: metricdata.Gauge[float64]{
		DataPoints: []metricdata.DataPoint[float64]{{
			Attributes: attribute.NewSet(
				attribute.String(tlv.DimensionAccount, "tenant-b"),
				attribute.String(tlv.DimensionNamespace, "tenant-ns"),
			),
			Time:  now,
			Value: 1,
		}},
	}})
	require.ErrorIs(t, s.Serialize(context.Background(), rm), ErrExportFailed)
	require.Contains(t, buf.String(), "account=tenant-b")
	require.Contains(t, buf.String(), "namespace=tenant-ns")
	require.NotContains(t, buf.String(), "account=acct")
}
