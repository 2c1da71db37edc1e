//go:build !windows

package network

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/grafana/genevaexporter/filequeue"
	"github.com/grafana/genevaexporter/types"
)

// message builds a buffer shaped like the encoder's: header, body, then unused capacity.
func message(body string) ([]byte, int) {
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint16(buf, uint16(types.EventTLV))
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(body)))
	copy(buf[headerSize:], body)
	return buf, len(body)
}

// socketPath keeps the path short, unix socket paths are limited to ~100 bytes.
func socketPath(t *testing.T) string {
	dir, err := os.MkdirTemp("", "geneva")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "a.sock")
}

type agent struct {
	ln   net.Listener
	mut  sync.Mutex
	data []byte
	wg   sync.WaitGroup
}

func newAgent(t *testing.T, path string) *agent {
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	a := &agent{ln: ln}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer conn.Close()
				buf := make([]byte, 1024)
				for {
					n, err := conn.Read(buf)
					a.mut.Lock()
					a.data = append(a.data, buf[:n]...)
					a.mut.Unlock()
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return a
}

func (a *agent) received() []byte {
	a.mut.Lock()
	defer a.mut.Unlock()
	return append([]byte(nil), a.data...)
}

func (a *agent) close() {
	_ = a.ln.Close()
}

func TestUnixTransport(t *testing.T) {
	path := socketPath(t)
	a := newAgent(t, path)
	defer a.close()

	var stats []types.TransportStats
	tr, err := New("unix:"+path, func(s types.TransportStats) { stats = append(stats, s) }, log.NewNopLogger(), Options{GOOS: "linux"})
	require.NoError(t, err)

	buf, n := message("hello")
	require.NoError(t, tr.Send(types.EventTLV, buf, n))
	buf, n = message("world")
	require.NoError(t, tr.Send(types.EventTLV, buf, n))
	require.NoError(t, tr.Close())

	want := []byte{70, 0, 5, 0, 'h', 'e', 'l', 'l', 'o', 70, 0, 5, 0, 'w', 'o', 'r', 'l', 'd'}
	require.Eventually(t, func() bool {
		return string(a.received()) == string(want)
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, stats, 2)
	require.Equal(t, 1, stats[0].Connects)
	require.Equal(t, 0, stats[1].Connects)
	require.Equal(t, 9, stats[0].BytesSent)
	require.Equal(t, types.ProtocolUnix, stats[0].Protocol)
}

func TestUnixTransportNoAgent(t *testing.T) {
	path := socketPath(t)
	var stats []types.TransportStats
	tr, err := New("unix:"+path, func(s types.TransportStats) { stats = append(stats, s) }, log.NewNopLogger(), Options{GOOS: "linux"})
	require.NoError(t, err)

	buf, n := message("x")
	require.Error(t, tr.Send(types.EventTLV, buf, n))
	require.Len(t, stats, 1)
	require.Equal(t, 1, stats[0].Failures)

	// The agent coming up later is picked up by the next send.
	a := newAgent(t, path)
	defer a.close()
	require.NoError(t, tr.Send(types.EventTLV, buf, n))
	require.Eventually(t, func() bool {
		return len(a.received()) == headerSize+1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Close())
}

func TestUnixTransportClosed(t *testing.T) {
	path := socketPath(t)
	a := newAgent(t, path)
	defer a.close()

	tr, err := New("unix:"+path, nil, nil, Options{GOOS: "linux"})
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	buf, n := message("x")
	require.Error(t, tr.Send(types.EventTLV, buf, n))
}

func TestCaptureTransport(t *testing.T) {
	fs := filequeue.NewMemoryFS()
	tr, err := New("file:/capture", nil, log.NewNopLogger(), Options{CaptureFS: fs})
	require.NoError(t, err)

	buf, n := message("body")
	require.NoError(t, tr.Send(types.EventTLV, buf, n))
	// The caller reuses its buffer right away.
	copy(buf, "garbage")
	require.NoError(t, tr.Close())

	q, err := filequeue.NewQueue("/capture", fs, log.NewNopLogger())
	require.NoError(t, err)
	files, err := q.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	meta, data, err := q.Get(files[0])
	require.NoError(t, err)
	require.Equal(t, "70", meta[MetaEventType])
	require.NotEmpty(t, meta[MetaCapturedAt])
	require.Equal(t, []byte{70, 0, 4, 0, 'b', 'o', 'd', 'y'}, data)
}

func TestETWUnavailable(t *testing.T) {
	_, err := New("etw", nil, nil, Options{GOOS: "windows"})
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}
