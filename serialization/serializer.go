package serialization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

// ErrExportFailed is returned when at least one point of a batch could not be delivered.
var ErrExportFailed = errors.New("geneva: export failed")

// errUnsupported marks points whose aggregation has no TLV layout.
var errUnsupported = errors.New("unsupported aggregation")

// Serializer turns metric batches into TLV messages, one per data point, and
// hands each to the transport. It reuses a single encoding buffer so calls must
// not overlap; the SDK never calls Export concurrently.
type Serializer struct {
	encoder   *tlv.Encoder
	transport types.Transport
	logger    log.Logger
	stats     func(types.SerializerStats)
	failures  *failureLog
}

// NewSerializer creates a Serializer writing through t. stats may be nil.
func NewSerializer(enc *tlv.Encoder, t types.Transport, stats func(types.SerializerStats), failureCacheSize uint32, l log.Logger) (*Serializer, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if stats == nil {
		stats = func(types.SerializerStats) {}
	}
	if failureCacheSize == 0 {
		failureCacheSize = types.DefaultFailureLogCacheSize
	}
	fl, err := newFailureLog(failureCacheSize)
	if err != nil {
		return nil, err
	}
	return &Serializer{
		encoder:   enc,
		transport: t,
		logger:    log.With(l, "component", "geneva_serializer"),
		stats:     stats,
		failures:  fl,
	}, nil
}

// pointResult is the outcome of a single point.
type pointResult struct {
	account   string
	namespace string
	metric    string
	kind      tlv.Kind
	bytes     int
	err       error
}

// batch folds point results into the batch outcome.
type batch struct {
	stats  types.SerializerStats
	newest time.Time
	// skipped counts points not attempted because cause ended the export early.
	skipped int
	cause   error
}

// cancelled is checked before every point. Once ctx is done every later point is skipped.
func (b *batch) cancelled(ctx context.Context) bool {
	if b.cause == nil {
		b.cause = ctxErr(ctx)
	}
	if b.cause != nil {
		b.skipped++
		return true
	}
	return false
}

func (b *batch) add(r pointResult, p *tlv.Point) {
	if r.err != nil {
		b.stats.PointsFailed++
		switch {
		case errors.Is(r.err, tlv.ErrBufferFull):
			b.stats.BufferFull++
		case errors.Is(r.err, errUnsupported):
			b.stats.UnsupportedPoints++
		}
		return
	}
	b.stats.PointsEncoded++
	b.stats.EncodedBytes += r.bytes
	if r.kind == tlv.KindHistogram {
		b.stats.HistogramsSent++
	}
	if p != nil {
		b.stats.ExemplarsSent += len(p.Exemplars)
		if p.Time.After(b.newest) {
			b.newest = p.Time
		}
	}
}

func (b *batch) err() error {
	if b.stats.PointsFailed == 0 {
		return nil
	}
	total := b.stats.PointsFailed + b.stats.PointsEncoded
	if b.cause != nil {
		return fmt.Errorf("%w: %d of %d points failed: %w", ErrExportFailed, b.stats.PointsFailed, total, b.cause)
	}
	return fmt.Errorf("%w: %d of %d points failed", ErrExportFailed, b.stats.PointsFailed, total)
}

// finish reports the batch stats and returns the batch error.
func (s *Serializer) finish(b *batch) error {
	if b.skipped > 0 {
		b.stats.PointsFailed += b.skipped
		level.Warn(s.logger).Log("msg", "export cancelled, dropping remaining points", "points", b.skipped, "err", b.cause)
	}
	if !b.newest.IsZero() {
		b.stats.NewestTimestampSeconds = b.newest.Unix()
	}
	s.stats(b.stats)
	return b.err()
}

// emit encodes p and sends it. Failures are logged here and returned in the result.
func (s *Serializer) emit(b *batch, p *tlv.Point) {
	r := pointResult{metric: p.Name, kind: p.Kind}
	r.account, r.namespace = s.encoder.Destination(p)
	n, err := s.encoder.Encode(p)
	if err != nil {
		r.err = fmt.Errorf("encoding: %w", err)
	} else if err = s.transport.Send(types.EventTLV, s.encoder.Bytes(), n); err != nil {
		r.err = fmt.Errorf("sending: %w", err)
	} else {
		r.bytes = n + tlv.HeaderSize
	}
	if r.err != nil {
		s.logFailure(r)
	}
	b.add(r, p)
}

// fail records a point that never reached the encoder.
func (s *Serializer) fail(b *batch, metric string, err error) {
	r := pointResult{
		account:   s.encoder.Account(),
		namespace: s.encoder.Namespace(),
		metric:    metric,
		err:       err,
	}
	s.logFailure(r)
	b.add(r, nil)
}

func (s *Serializer) logFailure(r pointResult) {
	l := log.With(s.logger,
		"account", r.account,
		"namespace", r.namespace,
		"metric", r.metric,
		"err", r.err,
	)
	if s.failures.firstSeen(r.account, r.namespace, r.metric) {
		level.Error(l).Log("msg", "failed to export metric point")
		return
	}
	level.Debug(l).Log("msg", "failed to export metric point")
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
