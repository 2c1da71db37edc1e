package genevaexporter

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/serialization"
	"github.com/grafana/genevaexporter/stats"
	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

type fakeTransport struct {
	mut      sync.Mutex
	messages []*tlv.Message
	closed   bool
	fail     bool
}

func (f *fakeTransport) Send(_ types.EventType, buf []byte, bodyLength int) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.fail {
		return errors.New("agent unavailable")
	}
	msg, err := tlv.Decode(buf[:tlv.HeaderSize+bodyLength])
	if err != nil {
		return err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) byName() map[string]*tlv.Message {
	f.mut.Lock()
	defer f.mut.Unlock()
	out := make(map[string]*tlv.Message, len(f.messages))
	for _, m := range f.messages {
		out[m.Name] = m
	}
	return out
}

func testConfig() types.ExporterConfig {
	return types.ExporterConfig{
		ConnectionString: "Endpoint=unix:/var/run/agent.sock;Account=acct;Namespace=ns",
		PrepopulatedDimensions: map[string]string{
			"cloud.role": "api",
		},
	}
}

func TestExporterWithMeterProvider(t *testing.T) {
	ft := &fakeTransport{}
	exp, err := New(testConfig(), Options{Logger: log.NewNopLogger(), Transport: ft})
	require.NoError(t, err)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Hour))))
	meter := mp.Meter("test")

	ctx := context.Background()
	counter, err := meter.Int64Counter("requests")
	require.NoError(t, err)
	counter.Add(ctx, 5, metric.WithAttributes(attribute.String("region", "eu")))
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("region", "eu")))

	hist, err := meter.Float64Histogram("latency", metric.WithExplicitBucketBoundaries(10, 20))
	require.NoError(t, err)
	hist.Record(ctx, 4)
	hist.Record(ctx, 25)

	gauge, err := meter.Float64Gauge("temperature")
	require.NoError(t, err)
	gauge.Record(ctx, 21.5, metric.WithAttributes(attribute.String(tlv.DimensionAccount, "other")))

	require.NoError(t, mp.ForceFlush(ctx))

	msgs := ft.byName()
	require.Len(t, msgs, 3)

	req := msgs["requests"]
	require.Equal(t, tlv.PayloadULongMetric, req.ValueType)
	require.Equal(t, uint64(7), req.ULongValue)
	require.Equal(t, []tlv.Attribute{{Key: "cloud.role", Value: "api"}, {Key: "region", Value: "eu"}}, req.Dimensions)
	require.Equal(t, "acct", req.Account)
	require.Equal(t, "ns", req.Namespace)

	lat := msgs["latency"]
	require.Equal(t, uint32(2), lat.Histogram.Count)
	require.Equal(t, uint64(29), lat.Histogram.Sum)
	require.Equal(t, uint64(4), lat.Histogram.Min)
	require.Equal(t, uint64(25), lat.Histogram.Max)
	require.Equal(t, []tlv.Bucket{{Bound: 10, Count: 1}, {Bound: 11, Count: 1}}, lat.Histogram.Buckets)

	temp := msgs["temperature"]
	require.Equal(t, 21.5, temp.DoubleValue)
	require.Equal(t, "other", temp.Account)

	require.NoError(t, mp.Shutdown(ctx))
	require.False(t, ft.closed, "injected transport is left to the caller")
	require.ErrorIs(t, exp.Export(ctx, &metricdata.ResourceMetrics{}), sdkmetric.ErrExporterShutdown)
	require.ErrorIs(t, exp.Shutdown(ctx), sdkmetric.ErrExporterShutdown)
}

func TestExporterDeltaTemporality(t *testing.T) {
	exp, err := New(testConfig(), Options{Transport: &fakeTransport{}})
	require.NoError(t, err)
	for _, k := range []sdkmetric.InstrumentKind{
		sdkmetric.InstrumentKindCounter,
		sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindHistogram,
		sdkmetric.InstrumentKindGauge,
	} {
		require.Equal(t, metricdata.DeltaTemporality, exp.Temporality(k))
	}
	require.NoError(t, exp.ForceFlush(context.Background()))
}

func TestExporterFailureReported(t *testing.T) {
	ft := &fakeTransport{fail: true}
	hub := stats.NewStats()
	var got []types.SerializerStats
	release := hub.RegisterSerializer(func(s types.SerializerStats) { got = append(got, s) })
	defer release()

	exp, err := New(testConfig(), Options{Transport: ft, Stats: hub})
	require.NoError(t, err)

	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName("cpu")
	dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
	dp.SetTimestamp(pcommon.NewTimestampFromTime(time.Now()))
	dp.SetDoubleValue(1)

	err = exp.ConsumeMetrics(context.Background(), md)
	require.ErrorIs(t, err, serialization.ErrExportFailed)
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].PointsFailed)
}

func TestExporterConfigErrors(t *testing.T) {
	_, err := New(types.ExporterConfig{}, Options{Transport: &fakeTransport{}})
	require.Error(t, err)

	_, err = New(types.ExporterConfig{ConnectionString: "Endpoint=unix:/tmp/a.sock"}, Options{Transport: &fakeTransport{}})
	require.ErrorContains(t, err, "account is required")
	require.ErrorContains(t, err, "namespace is required")

	cfg := testConfig()
	cfg.PrepopulatedDimensions = map[string]string{tlv.DimensionNamespace: "x"}
	_, err = New(cfg, Options{Transport: &fakeTransport{}})
	require.ErrorContains(t, err, "reserved")

	cfg = testConfig()
	cfg.ConnectionString = "Endpoint=tcp:localhost;Account=a;Namespace=n"
	_, err = New(cfg, Options{})
	require.Error(t, err)
}

func TestExporterConfigFieldsWin(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.Account = "cfg-account"
	exp, err := New(cfg, Options{Transport: ft})
	require.NoError(t, err)

	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName("cpu")
	m.SetEmptyGauge().DataPoints().AppendEmpty().SetDoubleValue(1)
	require.NoError(t, exp.ConsumeMetrics(context.Background(), md))
	require.Equal(t, "cfg-account", ft.byName()["cpu"].Account)
	require.Equal(t, "ns", ft.byName()["cpu"].Namespace)
}

func TestExporterCaptureEndpoint(t *testing.T) {
	fs := filequeue.NewMemoryFS()
	cfg := testConfig()
	cfg.ConnectionString = "Endpoint=file:/capture;Account=acct;Namespace=ns"
	exp, err := New(cfg, Options{CaptureFS: fs})
	require.NoError(t, err)

	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName("cpu")
	m.SetEmptyGauge().DataPoints().AppendEmpty().SetDoubleValue(3)
	require.NoError(t, exp.ConsumeMetrics(context.Background(), md))
	require.NoError(t, exp.Shutdown(context.Background()))

	q, err := filequeue.NewQueue("/capture", fs, nil)
	require.NoError(t, err)
	files, err := q.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	_, data, err := q.Get(files[0])
	require.NoError(t, err)
	msg, err := tlv.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "cpu", msg.Name)
	require.Equal(t, float64(3), msg.DoubleValue)
}

func TestExporterClosesOwnedTransport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix endpoints are not available on windows")
	}
	dir := t.TempDir()
	path := dir + "/agent.sock"
	cfg := testConfig()
	cfg.ConnectionString = "Endpoint=unix:" + path + ";Account=acct;Namespace=ns"
	exp, err := New(cfg, Options{})
	require.NoError(t, err)
	require.True(t, exp.ownsTransport)
	require.NoError(t, exp.Shutdown(context.Background()))

	// A closed unix transport refuses to send.
	buf := make([]byte, tlv.HeaderSize)
	require.Error(t, exp.transport.Send(types.EventTLV, buf, 0))

	ft := &fakeTransport{}
	exp, err = New(testConfig(), Options{Transport: ft})
	require.NoError(t, err)
	require.False(t, exp.ownsTransport)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.False(t, ft.closed)
}
