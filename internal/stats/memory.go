package stats

import (
	"context"
	"sync"
)

// MemoryRecorder keeps counters in process memory. Counters are lost on
// restart.
type MemoryRecorder struct {
	mu         sync.Mutex
	total      Counters
	byEndpoint map[string]Counters
	closed     bool
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		byEndpoint: make(map[string]Counters),
	}
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.total.add(ev.Admitted)
	c := m.byEndpoint[ev.Endpoint]
	c.add(ev.Admitted)
	m.byEndpoint[ev.Endpoint] = c
	return nil
}

func (m *MemoryRecorder) Summary(_ context.Context) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy so callers can't mutate the live map
	endpoints := make(map[string]Counters, len(m.byEndpoint))
	for k, v := range m.byEndpoint {
		endpoints[k] = v
	}
	return &Summary{Total: m.total, Endpoints: endpoints}, nil
}

func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
