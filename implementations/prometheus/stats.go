package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/genevaexporter/types"
)

// PrometheusStats turns hub notifications into Prometheus metrics about the exporter itself.
type PrometheusStats struct {
	register         prometheus.Registerer
	stats            types.StatsHub
	serialRelease    types.NotificationRelease
	transportRelease types.NotificationRelease

	// Serializer Stats
	SerializerPointsEncoded            prometheus.Counter
	SerializerPointsFailed             prometheus.Counter
	SerializerHistograms               prometheus.Counter
	SerializerExemplars                prometheus.Counter
	SerializerBufferFull               prometheus.Counter
	SerializerUnsupported              prometheus.Counter
	SerializerBytes                    prometheus.Counter
	SerializerNewestInTimeStampSeconds prometheus.Gauge

	// Transport Stats
	TransportMessagesSent *prometheus.CounterVec
	TransportFailures     *prometheus.CounterVec
	TransportConnects     *prometheus.CounterVec
	TransportBytesSent    *prometheus.CounterVec
	TransportSendDuration *prometheus.HistogramVec
}

func NewStats(namespace, subsystem string, registry prometheus.Registerer, sh types.StatsHub) *PrometheusStats {
	s := &PrometheusStats{
		stats:    sh,
		register: registry,
		SerializerPointsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_points_encoded_total",
			Help:      "Total number of data points encoded and handed to the transport.",
		}),
		SerializerPointsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_points_failed_total",
			Help:      "Total number of data points that could not be encoded or sent.",
		}),
		SerializerHistograms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_histograms_total",
		}),
		SerializerExemplars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_exemplars_total",
		}),
		SerializerBufferFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_buffer_full_total",
			Help:      "Total number of data points that did not fit into a single message.",
		}),
		SerializerUnsupported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_unsupported_points_total",
			Help:      "Total number of data points with an aggregation that cannot be encoded.",
		}),
		SerializerBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_encoded_bytes_total",
		}),
		SerializerNewestInTimeStampSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "serializer_timestamp_seconds",
			Help:      "Timestamp of the newest data point encoded.",
		}),
		TransportMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_messages_sent_total",
		}, []string{"protocol"}),
		TransportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_failures_total",
		}, []string{"protocol"}),
		TransportConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_connects_total",
			Help:      "Total number of connections opened to the metrics agent.",
		}, []string{"protocol"}),
		TransportBytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transport_sent_bytes_total",
		}, []string{"protocol"}),
		TransportSendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                   namespace,
			Subsystem:                   subsystem,
			Name:                        "transport_send_duration_seconds",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"protocol"}),
	}
	s.serialRelease = s.stats.RegisterSerializer(s.UpdateSerializer)
	s.transportRelease = s.stats.RegisterTransport(s.UpdateTransport)
	registry.MustRegister(s.collectors()...)
	return s
}

func (s *PrometheusStats) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.SerializerPointsEncoded,
		s.SerializerPointsFailed,
		s.SerializerHistograms,
		s.SerializerExemplars,
		s.SerializerBufferFull,
		s.SerializerUnsupported,
		s.SerializerBytes,
		s.SerializerNewestInTimeStampSeconds,
		s.TransportMessagesSent,
		s.TransportFailures,
		s.TransportConnects,
		s.TransportBytesSent,
		s.TransportSendDuration,
	}
}

func (s *PrometheusStats) Unregister() {
	for _, g := range s.collectors() {
		s.register.Unregister(g)
	}
	s.transportRelease()
	s.serialRelease()
}

func (s *PrometheusStats) UpdateSerializer(stats types.SerializerStats) {
	s.SerializerPointsEncoded.Add(float64(stats.PointsEncoded))
	s.SerializerPointsFailed.Add(float64(stats.PointsFailed))
	s.SerializerHistograms.Add(float64(stats.HistogramsSent))
	s.SerializerExemplars.Add(float64(stats.ExemplarsSent))
	s.SerializerBufferFull.Add(float64(stats.BufferFull))
	s.SerializerUnsupported.Add(float64(stats.UnsupportedPoints))
	s.SerializerBytes.Add(float64(stats.EncodedBytes))
	// The newest timestamp is not set for batches where nothing was encoded.
	if stats.NewestTimestampSeconds != 0 {
		s.SerializerNewestInTimeStampSeconds.Set(float64(stats.NewestTimestampSeconds))
	}
}

func (s *PrometheusStats) UpdateTransport(stats types.TransportStats) {
	protocol := string(stats.Protocol)
	s.TransportMessagesSent.WithLabelValues(protocol).Add(float64(stats.MessagesSent))
	s.TransportFailures.WithLabelValues(protocol).Add(float64(stats.Failures))
	s.TransportConnects.WithLabelValues(protocol).Add(float64(stats.Connects))
	s.TransportBytesSent.WithLabelValues(protocol).Add(float64(stats.BytesSent))
	s.TransportSendDuration.WithLabelValues(protocol).Observe(stats.SendDuration.Seconds())
}
