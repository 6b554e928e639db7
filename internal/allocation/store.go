package allocation

import (
	"context"
	"sync"

	"refundly.org/internal/fees"
)

// Store is the persistence collaborator for allocations and the reference
// data they depend on. SaveAllocation performs an optimistic check: the
// stored Version must be exactly one behind the incoming Version (transitions
// bump it), otherwise ErrVersionConflict. A stale approve can therefore never
// clobber a concurrent rejection.
type Store interface {
	Allocation(ctx context.Context, id string) (RefundAllocation, error)
	SaveAllocation(ctx context.Context, a RefundAllocation) error
	Template(ctx context.Context, id string) (Template, error)
	FeeSchedule(ctx context.Context, id string) (fees.Schedule, error)
	FeeSchedules(ctx context.Context) (map[string]fees.Schedule, error)
}

// InMemory implements Store for tests and the zero-config dev server.
// NOTE: production deployments use the Postgres store.
type InMemory struct {
	mu        sync.RWMutex
	allocs    map[string]RefundAllocation
	templates map[string]Template
	schedules map[string]fees.Schedule
}

// NewInMemory creates an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{
		allocs:    make(map[string]RefundAllocation),
		templates: make(map[string]Template),
		schedules: make(map[string]fees.Schedule),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Allocation(ctx context.Context, id string) (RefundAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocs[id]
	if !ok {
		return RefundAllocation{}, ErrNotFound
	}
	out := a
	out.Items = append([]Item(nil), a.Items...)
	return out, nil
}

func (s *InMemory) SaveAllocation(ctx context.Context, a RefundAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.allocs[a.ID]
	if !ok {
		if a.Version != 1 {
			return ErrNotFound
		}
	} else if cur.Version != a.Version-1 {
		return ErrVersionConflict
	}
	a.Items = append([]Item(nil), a.Items...)
	s.allocs[a.ID] = a
	return nil
}

func (s *InMemory) Template(ctx context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

// PutTemplate registers a template. Seed helper; no versioning.
func (s *InMemory) PutTemplate(t Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *InMemory) FeeSchedule(ctx context.Context, id string) (fees.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return fees.Schedule{}, ErrNotFound
	}
	return sch, nil
}

func (s *InMemory) FeeSchedules(ctx context.Context) (map[string]fees.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]fees.Schedule, len(s.schedules))
	for k, v := range s.schedules {
		out[k] = v
	}
	return out, nil
}

// PutFeeSchedule validates and registers a schedule. Invalid configuration
// is rejected at load time rather than surfacing during fee computation.
func (s *InMemory) PutFeeSchedule(sch fees.Schedule) error {
	if err := fees.Validate(sch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sch.ID] = sch
	return nil
}
