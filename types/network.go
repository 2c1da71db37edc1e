package types

// EventType identifies the kind of message handed to a Transport.
type EventType uint16

// EventTLV marks a self-describing TLV metric message.
const EventTLV = EventType(70)

// Transport delivers encoded messages to the metrics agent.
type Transport interface {
	// Send delivers one message. buf starts with the 4 byte header and
	// bodyLength is the number of bytes that follow it. buf is reused by the
	// caller once Send returns, so implementations must not retain it.
	Send(event EventType, buf []byte, bodyLength int) error
	// Close releases anything the transport owns. Process wide facilities are left running.
	Close() error
}

// Protocol is the kind of transport selected by the connection string.
type Protocol string

const (
	ProtocolETW     = Protocol("etw")
	ProtocolUnix    = Protocol("unix")
	ProtocolCapture = Protocol("file")
)
