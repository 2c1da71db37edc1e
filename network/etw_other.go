//go:build !windows || 386 || arm

package network

import (
	"fmt"
	"runtime"

	"github.com/go-kit/log"

	"github.com/grafana/genevaexporter/types"
)

func newETWTransport(func(types.TransportStats), log.Logger) (types.Transport, error) {
	return nil, fmt.Errorf("%w: etw is not available on %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
}
