package stats

import (
	"sync"

	"github.com/grafana/genevaexporter/types"
)

var _ types.StatsHub = (*stats)(nil)

// stats is used to collect and distribute stats to interested party.
// It does this by keeping track of interested parties to each type.
// Whenever a interested party registers they are given a NotificationRelease
// that cleans up.
type stats struct {
	mut        sync.RWMutex
	serializer map[int]func(types.SerializerStats)
	transport  map[int]func(types.TransportStats)
	index      int
}

func NewStats() types.StatsHub {
	return &stats{
		serializer: make(map[int]func(types.SerializerStats)),
		transport:  make(map[int]func(types.TransportStats)),
	}
}

func (s *stats) RegisterSerializer(f func(types.SerializerStats)) types.NotificationRelease {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.serializer[s.index] = f
	index := s.index
	s.index++

	return func() {
		s.mut.Lock()
		defer s.mut.Unlock()

		delete(s.serializer, index)
	}
}

func (s *stats) RegisterTransport(f func(types.TransportStats)) types.NotificationRelease {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.transport[s.index] = f
	index := s.index
	s.index++

	return func() {
		s.mut.Lock()
		defer s.mut.Unlock()

		delete(s.transport, index)
	}
}

func (s *stats) SendSerializerStats(st types.SerializerStats) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	for _, v := range s.serializer {
		v(st)
	}
}

func (s *stats) SendTransportStats(st types.TransportStats) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	for _, v := range s.transport {
		v(st)
	}
}
