package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/genevaexporter/types"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

var _ types.Transport = (*unixTransport)(nil)

// unixTransport writes whole messages, header included, to a stream socket
// owned by the exporter. A failed write drops the connection and the next
// send dials again.
type unixTransport struct {
	mut    sync.Mutex
	path   string
	conn   net.Conn
	closed bool
	log    log.Logger
	stats  func(types.TransportStats)
}

func newUnixTransport(path string, stats func(types.TransportStats), l log.Logger) *unixTransport {
	return &unixTransport{
		path:  path,
		log:   log.With(l, "transport", "unix", "path", path),
		stats: stats,
	}
}

func (u *unixTransport) Send(_ types.EventType, buf []byte, bodyLength int) error {
	start := time.Now()
	msg := buf[:headerSize+bodyLength]

	u.mut.Lock()
	defer u.mut.Unlock()

	reconnected, err := u.send(msg)
	recordStats(u.stats, types.ProtocolUnix, len(msg), start, reconnected, err)
	return err
}

func (u *unixTransport) send(msg []byte) (bool, error) {
	if u.closed {
		return false, fmt.Errorf("unix transport %s is closed", u.path)
	}
	reconnected := false
	if u.conn == nil {
		conn, err := net.DialTimeout("unix", u.path, dialTimeout)
		if err != nil {
			return false, fmt.Errorf("dialing %s: %w", u.path, err)
		}
		u.conn = conn
		reconnected = true
		level.Debug(u.log).Log("msg", "connected to metrics agent")
	}
	if err := u.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		u.drop()
		return reconnected, fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := u.conn.Write(msg); err != nil {
		u.drop()
		return reconnected, fmt.Errorf("writing to %s: %w", u.path, err)
	}
	return reconnected, nil
}

func (u *unixTransport) drop() {
	if u.conn == nil {
		return
	}
	if err := u.conn.Close(); err != nil {
		level.Debug(u.log).Log("msg", "error closing connection", "err", err)
	}
	u.conn = nil
}

func (u *unixTransport) Close() error {
	u.mut.Lock()
	defer u.mut.Unlock()

	u.closed = true
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
