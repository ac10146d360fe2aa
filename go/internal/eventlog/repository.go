package eventlog

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

// Repository persists history events. ListByInstance returns events in insertion order.
type Repository interface {
	Insert(ctx context.Context, event models.HistoryEvent) error
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error)
}

// LockedFunc runs under an InstanceLocker's lock. missed holds the events persisted after the first
// known ones; insert stores an event while the lock is held.
type LockedFunc func(missed []models.HistoryEvent, insert func(models.HistoryEvent) error) error

// InstanceLocker is implemented by repositories shared by several processes. A Log appending through
// one runs its guards under the repository lock against the persisted history, not only its cache.
type InstanceLocker interface {
	WithInstanceLock(ctx context.Context, instanceID uuid.UUID, known int, fn LockedFunc) error
}

// MemoryRepository keeps history in process memory. Used for STORE=memory and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]models.HistoryEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[uuid.UUID][]models.HistoryEvent)}
}

func (r *MemoryRepository) Insert(_ context.Context, event models.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.MatchInstanceID] = append(r.events[event.MatchInstanceID], event)
	return nil
}

func (r *MemoryRepository) ListByInstance(_ context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.events[instanceID]
	out := make([]models.HistoryEvent, len(src))
	copy(out, src)
	return out, nil
}
