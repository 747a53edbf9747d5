package alerts

import (
	"context"
	"sync"
	"time"
)

// Registry holds the alerts currently registered with the delivery host.
type Registry interface {
	// Replace discards every alert registered for dates and installs reqs.
	Replace(ctx context.Context, dates []time.Time, reqs []Request) error
	// Pending returns all registered alerts ordered by fire time.
	Pending(ctx context.Context) ([]Request, error)
	// Remove drops individual alerts, typically after they fired.
	Remove(ctx context.Context, reqs ...Request) error
	// CancelAll drops everything.
	CancelAll(ctx context.Context) error
}

// Due filters reqs down to those whose fire time is at or before now.
func Due(reqs []Request, now time.Time) []Request {
	var out []Request
	for _, r := range reqs {
		if !r.FireAt.After(now) {
			out = append(out, r)
		}
	}
	return out
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	byDate map[string]map[string]Request
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{byDate: make(map[string]map[string]Request)}
}

func (m *MemoryRegistry) Replace(_ context.Context, dates []time.Time, reqs []Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range dates {
		delete(m.byDate, dateKey(d))
	}
	for _, r := range reqs {
		k := r.DateKey()
		if m.byDate[k] == nil {
			m.byDate[k] = make(map[string]Request)
		}
		m.byDate[k][r.ID] = r
	}
	return nil
}

func (m *MemoryRegistry) Pending(_ context.Context) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, day := range m.byDate {
		for _, r := range day {
			out = append(out, r)
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (m *MemoryRegistry) Remove(_ context.Context, reqs ...Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reqs {
		k := r.DateKey()
		delete(m.byDate[k], r.ID)
		if len(m.byDate[k]) == 0 {
			delete(m.byDate, k)
		}
	}
	return nil
}

func (m *MemoryRegistry) CancelAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDate = make(map[string]map[string]Request)
	return nil
}

func dateKey(t time.Time) string { return t.Format(time.DateOnly) }
