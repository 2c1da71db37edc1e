package network

import (
	"strconv"
	"time"

	"github.com/go-kit/log"

	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/types"
)

// Metadata keys written next to every captured message.
const (
	MetaEventType  = "event_type"
	MetaCapturedAt = "captured_at"
)

var _ types.Transport = (*captureTransport)(nil)

// captureTransport writes each message, header included, to a filequeue directory.
type captureTransport struct {
	queue *filequeue.Queue
	stats func(types.TransportStats)
}

func newCaptureTransport(directory string, fs filequeue.FileSystem, stats func(types.TransportStats), l log.Logger) (*captureTransport, error) {
	q, err := filequeue.NewQueue(directory, fs, l)
	if err != nil {
		return nil, err
	}
	return &captureTransport{queue: q, stats: stats}, nil
}

func (c *captureTransport) Send(event types.EventType, buf []byte, bodyLength int) error {
	start := time.Now()
	msg := buf[:headerSize+bodyLength]
	_, err := c.queue.Store(map[string]string{
		MetaEventType:  strconv.Itoa(int(event)),
		MetaCapturedAt: start.UTC().Format(time.RFC3339Nano),
	}, msg)
	recordStats(c.stats, types.ProtocolCapture, len(msg), start, false, err)
	return err
}

func (c *captureTransport) Close() error {
	return nil
}
