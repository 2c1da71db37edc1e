// genevatlv inspects and produces TLV metric messages.
//
// dump decodes messages captured by a file: endpoint. send encodes one data
// point from the command line and delivers it through the endpoint of a YAML
// exporter config, which is a quick way to check that an agent is listening.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"

	genevaexporter "github.com/grafana/genevaexporter"
	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/network"
	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

func main() {
	logger := level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), level.AllowInfo())
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, logger log.Logger) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("a command is required")
	}
	switch args[0] {
	case "dump":
		return runDump(args[1:], out, logger)
	case "send":
		return runSend(args[1:], logger)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  genevatlv dump --dir <capture directory> [--delete]
  genevatlv send --config <exporter.yaml> --name <metric> [--kind double_gauge] [--value 1] [--dim key=value]...
`)
}

func runDump(args []string, out io.Writer, logger log.Logger) error {
	var dir string
	var remove bool
	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "directory written by a file: endpoint")
	flagSet.BoolVar(&remove, "delete", false, "remove each message once printed")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("--dir is required")
	}

	q, err := filequeue.NewQueue(dir, filequeue.NewDiskFS(), logger)
	if err != nil {
		return err
	}
	files, err := q.Files()
	if err != nil {
		return err
	}
	get := q.Get
	if remove {
		get = q.Pop
	}
	for _, name := range files {
		meta, data, err := get(name)
		if err != nil {
			level.Warn(logger).Log("msg", "unable to read captured message", "file", name, "err", err)
			continue
		}
		msg, err := tlv.Decode(data)
		if err != nil {
			level.Warn(logger).Log("msg", "unable to decode captured message", "file", name, "err", err)
			continue
		}
		printMessage(out, name, meta, msg)
	}
	return nil
}

func printMessage(out io.Writer, name string, meta map[string]string, m *tlv.Message) {
	fmt.Fprintf(out, "%s event=%d body=%d captured_at=%s\n", name, m.EventType, m.BodyLength, meta[network.MetaCapturedAt])
	fmt.Fprintf(out, "  metric=%q account=%q namespace=%q time=%s\n", m.Name, m.Account, m.Namespace, tlv.FromFileTime(m.Timestamp).Format(time.RFC3339Nano))
	switch m.ValueType {
	case tlv.PayloadULongMetric:
		fmt.Fprintf(out, "  ulong=%d\n", m.ULongValue)
	case tlv.PayloadDoubleMetric:
		fmt.Fprintf(out, "  double=%g\n", m.DoubleValue)
	case tlv.PayloadHistogramAggregate:
		h := m.Histogram
		fmt.Fprintf(out, "  histogram count=%d sum=%d min=%d max=%d\n", h.Count, h.Sum, h.Min, h.Max)
		for _, b := range h.Buckets {
			fmt.Fprintf(out, "    le=%d count=%d\n", b.Bound, b.Count)
		}
	}
	if len(m.Dimensions) > 0 {
		dims := make([]string, len(m.Dimensions))
		for i, d := range m.Dimensions {
			dims[i] = d.Key + "=" + d.Value
		}
		fmt.Fprintf(out, "  dimensions=%s\n", strings.Join(dims, ","))
	}
	for _, e := range m.Exemplars {
		fmt.Fprintf(out, "  exemplar flags=%#02x int=%d double=%g labels=%d trace=%x span=%x\n", e.Flags, e.IntValue, e.DoubleValue, len(e.Labels), e.TraceID, e.SpanID)
	}
}

func runSend(args []string, logger log.Logger) error {
	var configPath, name, kind string
	var value float64
	var dims map[string]string
	flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML exporter config")
	flagSet.StringVar(&name, "name", "", "metric name")
	flagSet.StringVar(&kind, "kind", tlv.KindDoubleGauge.String(), "int_sum, double_sum, int_gauge or double_gauge")
	flagSet.Float64Var(&value, "value", 1, "data point value")
	flagSet.StringToStringVar(&dims, "dim", nil, "dimension as key=value, repeatable")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if configPath == "" || name == "" {
		return fmt.Errorf("--config and --name are required")
	}
	cfg, err := types.LoadConfig(configPath)
	if err != nil {
		return err
	}
	md, err := samplePoint(name, kind, value, dims, time.Now())
	if err != nil {
		return err
	}

	exp, err := genevaexporter.New(cfg, genevaexporter.Options{Logger: logger})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sendErr := exp.ConsumeMetrics(ctx, md)
	if err := exp.Shutdown(ctx); err != nil {
		level.Warn(logger).Log("msg", "shutdown", "err", err)
	}
	if sendErr != nil {
		return sendErr
	}
	level.Info(logger).Log("msg", "sent data point", "metric", name, "kind", kind)
	return nil
}

// samplePoint builds a single point of the given kind.
func samplePoint(name, kind string, value float64, dims map[string]string, now time.Time) (pmetric.Metrics, error) {
	md := pmetric.NewMetrics()
	m := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName(name)

	var dp pmetric.NumberDataPoint
	switch kind {
	case tlv.KindIntSum.String(), tlv.KindDoubleSum.String():
		sum := m.SetEmptySum()
		sum.SetAggregationTemporality(pmetric.AggregationTemporalityDelta)
		sum.SetIsMonotonic(kind == tlv.KindIntSum.String())
		dp = sum.DataPoints().AppendEmpty()
	case tlv.KindIntGauge.String(), tlv.KindDoubleGauge.String():
		dp = m.SetEmptyGauge().DataPoints().AppendEmpty()
	default:
		return md, fmt.Errorf("unsupported kind %q", kind)
	}
	if strings.HasPrefix(kind, "int_") {
		dp.SetIntValue(int64(value))
	} else {
		dp.SetDoubleValue(value)
	}
	dp.SetTimestamp(pcommon.NewTimestampFromTime(now))

	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dp.Attributes().PutStr(k, dims[k])
	}
	return md, nil
}
