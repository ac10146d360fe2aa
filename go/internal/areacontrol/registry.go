package areacontrol

import (
	"sync"

	"github.com/google/uuid"
)

// Position is the last reported location of a player. Positions are never logged.
type Position struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the reported GPS accuracy radius in meters.
	Accuracy float64
}

// Registry holds the live positions of players in watched matches. A match is watched from start
// until teardown; updates for any other match are dropped.
type Registry struct {
	mu      sync.RWMutex
	matches map[uuid.UUID]map[string]Position
}

func NewRegistry() *Registry {
	return &Registry{matches: make(map[uuid.UUID]map[string]Position)}
}

// Watch starts accepting positions for a match. Watching an already watched match keeps its positions.
func (r *Registry) Watch(matchID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[matchID]; !ok {
		r.matches[matchID] = make(map[string]Position)
	}
}

// Unwatch forgets a match and its positions.
func (r *Registry) Unwatch(matchID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, matchID)
}

func (r *Registry) Watching(matchID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.matches[matchID]
	return ok
}

// Record stores a player's position and reports whether the match is watched.
func (r *Registry) Record(matchID uuid.UUID, userID string, pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	players, ok := r.matches[matchID]
	if !ok {
		return false
	}
	players[userID] = pos
	return true
}

// Positions returns a copy of the positions tracked for a match.
func (r *Registry) Positions(matchID uuid.UUID) map[string]Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.matches[matchID]
	out := make(map[string]Position, len(src))
	for id, p := range src {
		out[id] = p
	}
	return out
}
