package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
	"github.com/rs/zerolog/log"
)

// transition returns the payload for action given the current run state, or
// ErrInvalidStateTransition if the action does not apply.
func transition(action models.LifecycleAction, state timeline.RunState) (models.Payload, error) {
	switch action {
	case models.ActionStart:
		if state == timeline.StateStopped {
			return models.MatchStartedPayload{}, nil
		}
	case models.ActionRestart:
		if state == timeline.StateStopped || state == timeline.StateEnded {
			return models.MatchStartedPayload{Restart: true}, nil
		}
	case models.ActionPause:
		if state == timeline.StateRunning {
			return models.MatchPausedPayload{}, nil
		}
	case models.ActionResume:
		if state == timeline.StatePaused {
			return models.MatchResumedPayload{}, nil
		}
	case models.ActionEnd:
		if state == timeline.StateRunning || state == timeline.StatePaused {
			return models.MatchEndedPayload{Reason: models.EndReasonManual}, nil
		}
	default:
		return nil, fmt.Errorf("unknown lifecycle action %q: %w", action, models.ErrInvalidStateTransition)
	}
	return nil, fmt.Errorf("cannot %s a %s match: %w", action, state, models.ErrInvalidStateTransition)
}

// OnMatchLifecycle applies a lifecycle action: it logs the transition, updates the directory status
// and starts or stops the match's loops.
func (s *Service) OnMatchLifecycle(ctx context.Context, matchID uuid.UUID, action models.LifecycleAction) (models.HistoryEvent, error) {
	unlock := s.lock(matchID)
	defer unlock()

	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return models.HistoryEvent{}, err
	}

	event, _, err := s.history.AppendIf(ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		return transition(action, timeline.State(history))
	})
	if err != nil {
		return models.HistoryEvent{}, err
	}

	log.Info().
		Str("match_id", matchID.String()).
		Str("action", string(action)).
		Str("event_id", event.ID.String()).
		Msg("match lifecycle changed")

	return event, s.apply(ctx, match)
}

// ExpireMatch ends a running match whose countdown ran out. A match that is no longer running is
// left alone, so a late or repeated call appends nothing.
func (s *Service) ExpireMatch(ctx context.Context, matchID uuid.UUID) error {
	unlock := s.lock(matchID)
	defer unlock()

	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	_, appended, err := s.history.AppendIf(ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if timeline.State(history) != timeline.StateRunning || !timeline.Expired(match, history, now) {
			return nil, nil
		}
		return models.MatchEndedPayload{Reason: models.EndReasonTimeExpired}, nil
	})
	if err != nil {
		return err
	}
	if appended {
		log.Info().Str("match_id", matchID.String()).Msg("match ended: time expired")
	}
	return s.apply(ctx, match)
}

// apply brings the directory status, the loops and the clients in line with the logged state.
func (s *Service) apply(ctx context.Context, match *models.Match) error {
	history, err := s.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return fmt.Errorf("get history of %s: %w", match.ID, err)
	}
	state := timeline.State(history)

	switch state {
	case timeline.StateRunning:
		if err := s.loops.Activate(ctx, match); err != nil {
			return fmt.Errorf("activate loops of %s: %w", match.ID, err)
		}
	case timeline.StatePaused:
		s.loops.Suspend(match.ID)
	default:
		s.loops.Teardown(match.ID)
	}

	if err := s.matches.SetStatus(ctx, match.ID, state.Status()); err != nil {
		// The history is authoritative; the directory status only drives recovery.
		log.Error().Err(err).Str("match_id", match.ID.String()).Str("status", string(state.Status())).Msg("failed to update match status")
	}

	now := s.clock.Now()
	s.broadcastClocks(match, history, now)
	for i := range match.ControlPoints {
		if bomb := timeline.BombTimeOf(&match.ControlPoints[i], history, now); bomb != nil {
			s.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, bomb)
		}
	}
	return nil
}
