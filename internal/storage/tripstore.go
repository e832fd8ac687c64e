package storage

import (
	"context"
	"sync"

	"github.com/example/ride-engine/internal/models"
)

// TripStore defines persistence for rides. Update is the per-ride
// mutual-exclusion primitive: it reads the current record, applies mutate,
// and commits only if the record did not change underneath — so every status
// transition is validated against the persisted status, never a cached copy.
// mutate returning an error aborts the update with no write.
type TripStore interface {
	Create(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	Update(ctx context.Context, id string, mutate func(r *models.Ride) error) error
	// Delete removes a ride outright. Only scheduled reservations cancelled
	// before assignment are ever deleted; active trips are terminal, not gone.
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps rides in process memory. Mutation runs under the store
// lock, which gives Update the same single-writer guarantee the Postgres
// store gets from row locking.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rides[r.ID]; exists {
		return &models.ValidationError{Field: "id", Reason: "ride already exists"}
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "ride", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(r *models.Ride) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return &models.NotFoundError{Kind: "ride", ID: id}
	}
	next := *cur
	if err := mutate(&next); err != nil {
		return err
	}
	m.rides[id] = &next
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return &models.NotFoundError{Kind: "ride", ID: id}
	}
	delete(m.rides, id)
	return nil
}
