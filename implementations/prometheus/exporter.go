package prometheus

import (
	"context"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	genevaexporter "github.com/grafana/genevaexporter"
	"github.com/grafana/genevaexporter/stats"
	"github.com/grafana/genevaexporter/types"
)

// Exporter is a geneva exporter whose self metrics are registered with Prometheus.
type Exporter struct {
	*genevaexporter.Exporter
	stats *PrometheusStats
}

// NewExporter creates an exporter and registers its self metrics.
//
// Parameters:
// - name: identifier for the exporter, this will add a label to the prometheus metrics named exporter:<NAME>
// - cfg: ExporterConfig with the connection string, account and namespace.
// - registerer: Prometheus registry to apply metrics to.
// - namespace: Namespace to use to add to the metric family names. IE `alloy` would make `alloy_geneva_serializer_points_encoded_total`
// - logger: Logger for logging internal operations and errors.
func NewExporter(name string, cfg types.ExporterConfig, registerer prometheus.Registerer, namespace string, logger log.Logger) (*Exporter, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	sh := stats.NewStats()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"exporter": name}, registerer)
	ps := NewStats(namespace, "geneva", reg, sh)
	exp, err := genevaexporter.New(cfg, genevaexporter.Options{
		Logger: log.With(logger, "exporter", name),
		Stats:  sh,
	})
	if err != nil {
		ps.Unregister()
		return nil, err
	}
	return &Exporter{Exporter: exp, stats: ps}, nil
}

// Shutdown stops the exporter and removes its metrics from the registry.
func (e *Exporter) Shutdown(ctx context.Context) error {
	err := e.Exporter.Shutdown(ctx)
	e.stats.Unregister()
	return err
}
