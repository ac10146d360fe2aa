// Package matchdir is the match directory: match status, instance ids, players and control points.
package matchdir

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

// Store looks up and updates matches. Lookups of unknown ids return models.ErrNotFound.
type Store interface {
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	MatchForControlPoint(ctx context.Context, controlPointID uuid.UUID) (*models.Match, error)
	ListByStatus(ctx context.Context, status models.MatchStatus) ([]*models.Match, error)
	SetStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error
}

// clone copies a match deep enough that callers cannot mutate stored state.
func clone(m *models.Match) *models.Match {
	out := *m
	out.Teams = append([]string(nil), m.Teams...)
	out.Players = append([]models.Player(nil), m.Players...)
	out.ControlPoints = make([]models.ControlPoint, len(m.ControlPoints))
	for i, cp := range m.ControlPoints {
		if cp.PositionChallenge != nil {
			pc := *cp.PositionChallenge
			cp.PositionChallenge = &pc
		}
		if cp.BombChallenge != nil {
			bc := *cp.BombChallenge
			cp.BombChallenge = &bc
		}
		out.ControlPoints[i] = cp
	}
	if m.TotalTimeSeconds != nil {
		total := *m.TotalTimeSeconds
		out.TotalTimeSeconds = &total
	}
	return &out
}
