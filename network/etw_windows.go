//go:build windows && !386 && !arm

package network

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/go-kit/log"
	"golang.org/x/sys/windows"

	"github.com/grafana/genevaexporter/types"
)

// providerGUID is the ETW provider the metrics agent listens on.
const providerGUID = "{EDC24920-E004-40F6-A8E1-0E6E48F39D84}"

const etwLevelInformational = 4

var (
	advapi32      = windows.NewLazySystemDLL("advapi32.dll")
	eventRegister = advapi32.NewProc("EventRegister")
	eventWrite    = advapi32.NewProc("EventWrite")
)

// eventDescriptor mirrors EVENT_DESCRIPTOR.
type eventDescriptor struct {
	id      uint16
	version uint8
	channel uint8
	level   uint8
	opcode  uint8
	task    uint16
	keyword uint64
}

// eventDataDescriptor mirrors EVENT_DATA_DESCRIPTOR.
type eventDataDescriptor struct {
	ptr      uint64
	size     uint32
	reserved uint32
}

// The provider is registered once per process and never unregistered, other
// exporters in the process share it.
var (
	providerOnce   sync.Once
	providerHandle uint64
	providerErr    error
)

func registerProvider() (uint64, error) {
	providerOnce.Do(func() {
		guid, err := windows.GUIDFromString(providerGUID)
		if err != nil {
			providerErr = err
			return
		}
		if err := eventRegister.Find(); err != nil {
			providerErr = err
			return
		}
		r1, _, _ := eventRegister.Call(
			uintptr(unsafe.Pointer(&guid)),
			0, // no enable callback
			0,
			uintptr(unsafe.Pointer(&providerHandle)),
		)
		if r1 != 0 {
			providerErr = fmt.Errorf("EventRegister: %w", windows.Errno(r1))
		}
	})
	return providerHandle, providerErr
}

var _ types.Transport = (*etwTransport)(nil)

type etwTransport struct {
	handle uint64
	stats  func(types.TransportStats)
}

func newETWTransport(stats func(types.TransportStats), _ log.Logger) (types.Transport, error) {
	h, err := registerProvider()
	if err != nil {
		return nil, fmt.Errorf("registering etw provider: %w", err)
	}
	return &etwTransport{handle: h, stats: stats}, nil
}

// Send writes the body, without the header, as one event whose id is the event type.
func (e *etwTransport) Send(event types.EventType, buf []byte, bodyLength int) error {
	start := time.Now()
	desc := eventDescriptor{
		id:    uint16(event),
		level: etwLevelInformational,
	}
	var data eventDataDescriptor
	var count uintptr
	if bodyLength > 0 {
		data.ptr = uint64(uintptr(unsafe.Pointer(&buf[headerSize])))
		data.size = uint32(bodyLength)
		count = 1
	}
	r1, _, _ := eventWrite.Call(
		uintptr(e.handle),
		uintptr(unsafe.Pointer(&desc)),
		count,
		uintptr(unsafe.Pointer(&data)),
	)
	var err error
	if r1 != 0 {
		err = fmt.Errorf("EventWrite: %w", windows.Errno(r1))
	}
	recordStats(e.stats, types.ProtocolETW, bodyLength, start, false, err)
	return err
}

// Close leaves the provider registered for the rest of the process.
func (e *etwTransport) Close() error {
	return nil
}
