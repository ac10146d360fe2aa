package matchdir

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

type MemoryStore struct {
	mu            sync.RWMutex
	matches       map[uuid.UUID]*models.Match
	controlPoints map[uuid.UUID]uuid.UUID // control point -> match
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches:       make(map[uuid.UUID]*models.Match),
		controlPoints: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryStore) CreateMatch(_ context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[match.ID]; ok {
		return fmt.Errorf("match %s already exists", match.ID)
	}
	stored := clone(match)
	if stored.Status == "" {
		stored.Status = models.MatchStatusStopped
	}
	s.matches[match.ID] = stored
	for _, cp := range stored.ControlPoints {
		s.controlPoints[cp.ID] = match.ID
	}
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, matchID uuid.UUID) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, models.ErrNotFound)
	}
	return clone(m), nil
}

func (s *MemoryStore) MatchForControlPoint(ctx context.Context, controlPointID uuid.UUID) (*models.Match, error) {
	s.mu.RLock()
	matchID, ok := s.controlPoints[controlPointID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("control point %s: %w", controlPointID, models.ErrNotFound)
	}
	return s.GetMatch(ctx, matchID)
}

func (s *MemoryStore) ListByStatus(_ context.Context, status models.MatchStatus) ([]*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Match
	for _, m := range s.matches {
		if m.Status == status {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, matchID uuid.UUID, status models.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, models.ErrNotFound)
	}
	m.Status = status
	return nil
}
