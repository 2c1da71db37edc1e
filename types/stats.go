package types

import (
	"time"
)

// StatsHub allows types to register to receive stats and to also send stats to fanout to receivers.
type StatsHub interface {
	SendSerializerStats(SerializerStats)
	SendTransportStats(TransportStats)

	RegisterSerializer(func(SerializerStats)) NotificationRelease
	RegisterTransport(func(TransportStats)) NotificationRelease
}

type NotificationRelease func()

// SerializerStats is reported once per exported batch.
type SerializerStats struct {
	PointsEncoded int
	// PointsFailed counts points that failed to encode or send.
	PointsFailed   int
	HistogramsSent int
	ExemplarsSent  int
	// BufferFull counts points that did not fit into a single message.
	BufferFull             int
	UnsupportedPoints      int
	EncodedBytes           int
	NewestTimestampSeconds int64
}

// TransportStats is reported once per message handed to a transport.
type TransportStats struct {
	Protocol     Protocol
	MessagesSent int
	Failures     int
	Connects     int
	BytesSent    int
	SendDuration time.Duration
}
