package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
)

// Memory is an in-memory store for tests and single-shot runs. All methods
// copy records on the way in and out so callers never alias stored state.
type Memory struct {
	mu           sync.RWMutex
	deliverables map[string]*deliverable.Deliverable
	usage        []deliverable.UsageRecord
	runs         map[string]*audit.Run
}

var _ deliverable.Store = (*Memory)(nil)
var _ audit.RunStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		deliverables: make(map[string]*deliverable.Deliverable),
		runs:         make(map[string]*audit.Run),
	}
}

func (m *Memory) CreateDeliverable(_ context.Context, d *deliverable.Deliverable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.deliverables[d.ID]; exists {
		return fmt.Errorf("deliverable %s already exists", d.ID)
	}
	m.deliverables[d.ID] = d.Clone()
	return nil
}

func (m *Memory) GetDeliverable(_ context.Context, id string) (*deliverable.Deliverable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliverables[id]
	if !ok {
		return nil, deliverable.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) UpdateDeliverable(_ context.Context, d *deliverable.Deliverable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliverables[d.ID]; !ok {
		return deliverable.ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	m.deliverables[d.ID] = d.Clone()
	return nil
}

// UpdateStatuses validates every id before mutating anything, so a missing
// record leaves all statuses untouched.
func (m *Memory) UpdateStatuses(_ context.Context, ids []string, status deliverable.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.deliverables[id]; !ok {
			return fmt.Errorf("update status of %s: %w", id, deliverable.ErrNotFound)
		}
	}
	now := time.Now().UTC()
	for _, id := range ids {
		m.deliverables[id].Status = status
		m.deliverables[id].UpdatedAt = now
	}
	return nil
}

func (m *Memory) AppendUsage(_ context.Context, u deliverable.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, u)
	return nil
}

// Deliverables returns a copy of every stored record, for tests and
// reporting.
func (m *Memory) Deliverables() []*deliverable.Deliverable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*deliverable.Deliverable, 0, len(m.deliverables))
	for _, d := range m.deliverables {
		out = append(out, d.Clone())
	}
	return out
}

// Usage returns a copy of all recorded usage, for tests and reporting.
func (m *Memory) Usage() []deliverable.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]deliverable.UsageRecord(nil), m.usage...)
}

func (m *Memory) CreateRun(_ context.Context, r *audit.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[r.ID]; exists {
		return fmt.Errorf("audit run %s already exists", r.ID)
	}
	m.runs[r.ID] = cloneRun(r)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*audit.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, audit.ErrRunNotFound
	}
	return cloneRun(r), nil
}

func (m *Memory) UpdateRun(_ context.Context, r *audit.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return audit.ErrRunNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	m.runs[r.ID] = cloneRun(r)
	return nil
}

func cloneRun(r *audit.Run) *audit.Run {
	out := *r
	out.Stages = append([]audit.StageSlot(nil), r.Stages...)
	return &out
}
