package network

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grafana/genevaexporter/types"
)

var (
	// ErrUnsupportedProtocol is returned for an endpoint scheme this package cannot serve.
	ErrUnsupportedProtocol = errors.New("geneva: unsupported endpoint protocol")
	// ErrUnsupportedPlatform is returned when the selected transport does not exist on this OS.
	ErrUnsupportedPlatform = errors.New("geneva: transport not supported on this platform")
)

// ConnectionString is the parsed form of `Key=Value;` pairs.
type ConnectionString struct {
	Endpoint  string
	Account   string
	Namespace string
}

// ParseConnectionString reads the Endpoint, Account and Namespace keys. Keys are
// case insensitive, unknown keys are ignored and empty pairs are skipped.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return cs, fmt.Errorf("connection string: %q is not a Key=Value pair", pair)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			cs.Endpoint = value
		case "account":
			cs.Account = value
		case "namespace":
			cs.Namespace = value
		}
	}
	return cs, nil
}

// Endpoint is a resolved transport target.
type Endpoint struct {
	Protocol types.Protocol
	// Address is the socket path or capture directory. It is empty for ETW.
	Address string
}

// ResolveEndpoint picks the transport for raw on the given GOOS. An empty
// endpoint means ETW on Windows and is an error elsewhere.
func ResolveEndpoint(raw, goos string) (Endpoint, error) {
	if raw == "" {
		if goos == "windows" {
			return Endpoint{Protocol: types.ProtocolETW}, nil
		}
		return Endpoint{}, fmt.Errorf("%w: an endpoint is required on %s", ErrUnsupportedPlatform, goos)
	}
	scheme, address, _ := strings.Cut(raw, ":")
	switch types.Protocol(strings.ToLower(scheme)) {
	case types.ProtocolETW:
		if goos != "windows" {
			return Endpoint{}, fmt.Errorf("%w: etw requires windows, running on %s", ErrUnsupportedPlatform, goos)
		}
		return Endpoint{Protocol: types.ProtocolETW}, nil
	case types.ProtocolUnix:
		if goos == "windows" {
			return Endpoint{}, fmt.Errorf("%w: unix sockets are not used on windows", ErrUnsupportedPlatform)
		}
		address = strings.TrimPrefix(address, "//")
		if address == "" {
			return Endpoint{}, fmt.Errorf("%w: unix endpoint %q has no socket path", ErrUnsupportedProtocol, raw)
		}
		return Endpoint{Protocol: types.ProtocolUnix, Address: address}, nil
	case types.ProtocolCapture:
		address = strings.TrimPrefix(address, "//")
		if address == "" {
			return Endpoint{}, fmt.Errorf("%w: file endpoint %q has no directory", ErrUnsupportedProtocol, raw)
		}
		return Endpoint{Protocol: types.ProtocolCapture, Address: address}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, raw)
	}
}
