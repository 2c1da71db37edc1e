package genevaexporter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/collector/pdata/pmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/atomic"

	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/network"
	"github.com/grafana/genevaexporter/serialization"
	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

var _ sdkmetric.Exporter = (*Exporter)(nil)

// Options carries the collaborators of an Exporter. Every field is optional.
type Options struct {
	Logger log.Logger
	// Stats receives serializer and transport stats.
	Stats types.StatsHub
	// Transport replaces the one selected by the connection string endpoint.
	// It stays owned by the caller and is not closed by Shutdown.
	Transport types.Transport
	// CaptureFS is the filesystem used by file: endpoints.
	CaptureFS filequeue.FileSystem
}

// Exporter encodes every data point it is given into its own TLV message and
// hands it to the transport selected at construction. It implements the SDK
// exporter interface and the collector ConsumeMetrics signature.
type Exporter struct {
	// mut serializes batches, the encoder owns a single buffer.
	mut        sync.Mutex
	serializer *serialization.Serializer
	transport  types.Transport
	logger     log.Logger
	isShutdown atomic.Bool

	// ownsTransport is set when the transport was built from the endpoint.
	ownsTransport bool
}

// New validates cfg and builds the transport and serializer.
func New(cfg types.ExporterConfig, opts Options) (*Exporter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exporter config: %w", err)
	}
	cs, err := network.ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	account, namespace := cfg.Account, cfg.Namespace
	if account == "" {
		account = cs.Account
	}
	if namespace == "" {
		namespace = cs.Namespace
	}
	var errs error
	if account == "" {
		errs = multierror.Append(errs, errors.New("account is required in the config or the connection string"))
	}
	if namespace == "" {
		errs = multierror.Append(errs, errors.New("namespace is required in the config or the connection string"))
	}
	if errs != nil {
		return nil, fmt.Errorf("invalid exporter config: %w", errs)
	}

	var serializerStats func(types.SerializerStats)
	transportStats := func(types.TransportStats) {}
	if opts.Stats != nil {
		serializerStats = opts.Stats.SendSerializerStats
		transportStats = opts.Stats.SendTransportStats
	}

	transport, owned := opts.Transport, false
	if transport == nil {
		owned = true
		transport, err = network.New(cs.Endpoint, transportStats, logger, network.Options{CaptureFS: opts.CaptureFS})
		if err != nil {
			return nil, err
		}
	}

	enc := tlv.NewEncoder(account, namespace, cfg.PrepopulatedDimensions)
	ser, err := serialization.NewSerializer(enc, transport, serializerStats, cfg.FailureLogCacheSize, logger)
	if err != nil {
		if owned {
			_ = transport.Close()
		}
		return nil, err
	}
	level.Info(logger).Log("msg", "geneva exporter started", "account", account, "namespace", namespace, "endpoint", cs.Endpoint)
	return &Exporter{
		serializer:    ser,
		transport:     transport,
		ownsTransport: owned,
		logger:        logger,
	}, nil
}

// Temporality returns delta for every instrument, the agent aggregates deltas itself.
func (e *Exporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.DeltaTemporality
}

func (e *Exporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

// Export sends every data point in rm. Points that fail are logged and counted;
// the error wraps serialization.ErrExportFailed when any failed.
func (e *Exporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if e.isShutdown.Load() {
		return sdkmetric.ErrExporterShutdown
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.serializer.Serialize(ctx, rm)
}

// ConsumeMetrics is Export for collector pipelines.
func (e *Exporter) ConsumeMetrics(ctx context.Context, md pmetric.Metrics) error {
	if e.isShutdown.Load() {
		return sdkmetric.ErrExporterShutdown
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.serializer.SerializePdata(ctx, md)
}

// ForceFlush has nothing to do, every Export writes through.
func (e *Exporter) ForceFlush(ctx context.Context) error {
	return ctx.Err()
}

// Shutdown closes the transport built from the endpoint. Later calls to Export and Shutdown return sdkmetric.ErrExporterShutdown.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if !e.isShutdown.CompareAndSwap(false, true) {
		return sdkmetric.ErrExporterShutdown
	}
	var errs error
	if e.ownsTransport {
		if err := e.transport.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing transport: %w", err))
		}
	}
	if err := ctx.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}
	level.Info(e.logger).Log("msg", "geneva exporter stopped")
	return errs
}
