package network

import (
	"time"

	"github.com/grafana/genevaexporter/types"
)

// recordStats reports the outcome of one send. This allows for any number of
// metrics libraries to consume transport stats through the hub.
func recordStats(stats func(types.TransportStats), protocol types.Protocol, bytesSent int, start time.Time, connected bool, err error) {
	st := types.TransportStats{
		Protocol:     protocol,
		SendDuration: time.Since(start),
	}
	if connected {
		st.Connects = 1
	}
	if err != nil {
		st.Failures = 1
	} else {
		st.MessagesSent = 1
		st.BytesSent = bytesSent
	}
	stats(st)
}
