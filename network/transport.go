package network

import (
	"runtime"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/types"
	"github.com/grafana/genevaexporter/types/tlv"
)

const headerSize = tlv.HeaderSize

// Options tune New. The zero value uses the running OS and the real disk.
type Options struct {
	// GOOS overrides runtime.GOOS when resolving the endpoint.
	GOOS string
	// CaptureFS is the filesystem used by file: endpoints.
	CaptureFS filequeue.FileSystem
}

// New builds the transport selected by endpoint. The choice is fixed for the
// lifetime of the returned transport.
func New(endpoint string, stats func(types.TransportStats), l log.Logger, opts Options) (types.Transport, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if stats == nil {
		stats = func(types.TransportStats) {}
	}
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	ep, err := ResolveEndpoint(endpoint, goos)
	if err != nil {
		return nil, err
	}
	level.Debug(l).Log("msg", "selected transport", "protocol", ep.Protocol, "address", ep.Address)
	switch ep.Protocol {
	case types.ProtocolUnix:
		return newUnixTransport(ep.Address, stats, l), nil
	case types.ProtocolCapture:
		fs := opts.CaptureFS
		if fs == nil {
			fs = filequeue.NewDiskFS()
		}
		ct, err := newCaptureTransport(ep.Address, fs, stats, l)
		if err != nil {
			return nil, err
		}
		return ct, nil
	default:
		return newETWTransport(stats, l)
	}
}
