package serialization

import (
	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

// failureLog remembers which metrics already produced an error level log line
// so a metric that fails on every export does not flood the log.
type failureLog struct {
	seen   *freelru.LRU[uint64, struct{}]
	digest *xxhash.Digest
}

func newFailureLog(size uint32) (*failureLog, error) {
	seen, err := freelru.New[uint64, struct{}](size, func(k uint64) uint32 {
		return uint32(k ^ k>>32)
	})
	if err != nil {
		return nil, err
	}
	return &failureLog{seen: seen, digest: xxhash.New()}, nil
}

// firstSeen reports whether this is the first failure remembered for the metric.
func (f *failureLog) firstSeen(account, namespace, metric string) bool {
	f.digest.Reset()
	_, _ = f.digest.WriteString(account)
	_, _ = f.digest.Write([]byte{0xff})
	_, _ = f.digest.WriteString(namespace)
	_, _ = f.digest.Write([]byte{0xff})
	_, _ = f.digest.WriteString(metric)
	key := f.digest.Sum64()

	if f.seen.Contains(key) {
		return false
	}
	f.seen.Add(key, struct{}{})
	return true
}
