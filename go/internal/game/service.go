// Package game is the upward API of the timer engine: on-demand clocks, lifecycle, player actions
// and end-of-match reports. Every read recomputes from the match history; there is no live shortcut,
// so a reconnecting client sees exactly what a connected one does.
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/matchdir"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
	"github.com/rs/zerolog/log"
)

// History is the event log as seen by the service.
type History interface {
	GetHistory(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error)
	AppendIf(ctx context.Context, instanceID uuid.UUID, guard func([]models.HistoryEvent) (models.Payload, error)) (models.HistoryEvent, bool, error)
}

// Loops starts and stops the live loops of a match.
type Loops interface {
	Activate(ctx context.Context, match *models.Match) error
	Suspend(matchID uuid.UUID)
	Teardown(matchID uuid.UUID)
	StartBomb(matchID, controlPointID uuid.UUID)
	StopBomb(controlPointID uuid.UUID)
}

// Broadcaster pushes a payload to every client of a match.
type Broadcaster interface {
	Broadcast(matchID uuid.UUID, channel models.Channel, payload any)
}

type Service struct {
	matches     matchdir.Store
	history     History
	loops       Loops
	area        *areacontrol.Engine
	broadcaster Broadcaster
	clock       clockwork.Clock

	// lifecycleMu serializes lifecycle changes per match so loop start/stop follows log order.
	lifecycleMu sync.Map // uuid.UUID -> *sync.Mutex
}

func NewService(matches matchdir.Store, history History, loops Loops, area *areacontrol.Engine, broadcaster Broadcaster, clock clockwork.Clock) *Service {
	return &Service{
		matches:     matches,
		history:     history,
		loops:       loops,
		area:        area,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

func (s *Service) lock(matchID uuid.UUID) func() {
	v, _ := s.lifecycleMu.LoadOrStore(matchID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// load returns the match and a snapshot of its history.
func (s *Service) load(ctx context.Context, matchID uuid.UUID) (*models.Match, []models.HistoryEvent, error) {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("get history of %s: %w", matchID, err)
	}
	return match, history, nil
}

// loadControlPoint resolves a control point to its match, the point itself and the match history.
func (s *Service) loadControlPoint(ctx context.Context, controlPointID uuid.UUID) (*models.Match, *models.ControlPoint, []models.HistoryEvent, error) {
	match, err := s.matches.MatchForControlPoint(ctx, controlPointID)
	if err != nil {
		return nil, nil, nil, err
	}
	cp, ok := match.ControlPoint(controlPointID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("control point %s: %w", controlPointID, models.ErrNotFound)
	}
	history, err := s.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get history of %s: %w", match.ID, err)
	}
	return match, cp, history, nil
}

func (s *Service) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return s.matches.GetMatch(ctx, matchID)
}

func (s *Service) GetGameTime(ctx context.Context, matchID uuid.UUID) (models.GameTime, error) {
	match, history, err := s.load(ctx, matchID)
	if err != nil {
		return models.GameTime{}, err
	}
	return timeline.GameTimeOf(match, history, s.clock.Now()), nil
}

func (s *Service) GetControlPointTimes(ctx context.Context, matchID uuid.UUID) ([]models.ControlPointTime, error) {
	match, history, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return timeline.ControlPointTimesOf(match, history, s.clock.Now()), nil
}

// GetBombTime returns the countdown of the bomb on a control point, or nil when none is armed.
func (s *Service) GetBombTime(ctx context.Context, controlPointID uuid.UUID) (*models.BombTimeData, error) {
	_, cp, history, err := s.loadControlPoint(ctx, controlPointID)
	if err != nil {
		return nil, err
	}
	return timeline.BombTimeOf(cp, history, s.clock.Now()), nil
}

// GetCurrentAreaControlSnapshot returns the since-reset points per team of every position-challenge
// control point of the match.
func (s *Service) GetCurrentAreaControlSnapshot(ctx context.Context, matchID uuid.UUID) (map[uuid.UUID]map[string]float64, error) {
	match, history, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.area.Snapshot(match, history), nil
}

// OnPositionUpdate records a player's position. It reports false when the match is not being
// watched, in which case the update is dropped.
func (s *Service) OnPositionUpdate(matchID uuid.UUID, userID string, lat, lng, accuracy float64) bool {
	accepted := s.area.Positions().Record(matchID, userID, areacontrol.Position{
		Latitude:  lat,
		Longitude: lng,
		Accuracy:  accuracy,
	})
	if !accepted {
		log.Debug().
			Str("match_id", matchID.String()).
			Str("user_id", userID).
			Msg("position update for unwatched match ignored")
	}
	return accepted
}

// broadcastClocks pushes the match clock and every hold clock.
func (s *Service) broadcastClocks(match *models.Match, history []models.HistoryEvent, now time.Time) {
	s.broadcaster.Broadcast(match.ID, models.ChannelTimeUpdate, timeline.GameTimeOf(match, history, now))
	for _, cpt := range timeline.ControlPointTimesOf(match, history, now) {
		s.broadcaster.Broadcast(match.ID, models.ChannelControlPointTimeUpdate, cpt)
	}
}
