package tlv

import "time"

// MaxMessageSize is the largest message the backend accepts, header included.
const MaxMessageSize = 65360

// HeaderSize is the event type plus the body length.
const HeaderSize = 4

// PayloadType tags a segment.
type PayloadType uint8

const (
	PayloadAccountName          PayloadType = 1
	PayloadNamespace            PayloadType = 2
	PayloadMetricName           PayloadType = 3
	PayloadDimensions           PayloadType = 4
	PayloadULongMetric          PayloadType = 5
	PayloadDoubleMetric         PayloadType = 6
	PayloadHistogramAggregate   PayloadType = 8
	PayloadHistogramBucketTable PayloadType = 12
	PayloadExemplars            PayloadType = 15
)

// Exemplar flag bits.
const (
	ExemplarFlagIntegerValue uint8 = 0x01
	ExemplarFlagTimestamp    uint8 = 0x02
	ExemplarFlagSpanID       uint8 = 0x04
	ExemplarFlagTraceID      uint8 = 0x08
	ExemplarFlagSampleCount  uint8 = 0x10
)

const (
	exemplarsVersion      uint8 = 0
	exemplarRecordVersion uint8 = 0
)

const (
	traceIDSize = 16
	spanIDSize  = 8
)

// Reserved dimension names that override the account and namespace of a single point.
const (
	DimensionAccount   = "_microsoft_metrics_account"
	DimensionNamespace = "_microsoft_metrics_namespace"
)

// filetimeEpochOffset is the number of 100ns ticks between 1601-01-01 and 1970-01-01.
const filetimeEpochOffset = 116444736000000000

// ToFileTime converts t to Windows FILETIME ticks. Zero or pre-1601 times map to 0.
func ToFileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ticks := t.UnixNano()/100 + filetimeEpochOffset
	if ticks < 0 {
		return 0
	}
	return uint64(ticks)
}

// FromFileTime is the inverse of ToFileTime.
func FromFileTime(ticks uint64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ticks)-filetimeEpochOffset)*100).UTC()
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}
