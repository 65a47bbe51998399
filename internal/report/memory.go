package report

import (
	"context"
	"fmt"
	"sync"

	"github.com/qosmap/ppsprobe/pkg/guuid"
)

// MemoryStore is an in-process Store backed by a bounded ring buffer. It is
// the default store: a single pps-probe server instance does not need
// Redis just to let an operator glance at recent reports.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[guuid.GUUID]*StoredReport
	order    []guuid.GUUID // insertion order, oldest first
	capacity int
}

// NewMemoryStore creates a MemoryStore that retains at most capacity
// reports, evicting the oldest once full.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryStore{
		byID:     make(map[guuid.GUUID]*StoredReport, capacity),
		capacity: capacity,
	}
}

func (m *MemoryStore) Put(ctx context.Context, r StoredReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[r.FlowID]; !exists {
		m.order = append(m.order, r.FlowID)
	}
	cp := r
	m.byID[r.FlowID] = &cp

	for len(m.order) > m.capacity {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.byID, evict)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id guuid.GUUID) (*StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("report: no report stored for flow %s", id)
	}
	cp := *r
	return &cp, nil
}

// List returns up to limit reports, most recently recorded first. limit<=0
// means no cap.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]*StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*StoredReport, 0, n)
	for i := len(m.order) - 1; i >= 0 && len(out) < n; i-- {
		cp := *m.byID[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}
