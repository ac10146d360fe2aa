package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
	"github.com/rs/zerolog/log"
)

// requireRunning rejects player actions outside a running match, including a running match whose
// countdown has already run out.
func requireRunning(match *models.Match, history []models.HistoryEvent, now time.Time) error {
	if state := timeline.State(history); state != timeline.StateRunning {
		return fmt.Errorf("match is %s: %w", state, models.ErrInvalidStateTransition)
	}
	if timeline.Expired(match, history, now) {
		return fmt.Errorf("match time expired: %w", models.ErrInvalidStateTransition)
	}
	return nil
}

func playerTeam(match *models.Match, userID string) (string, error) {
	team := match.TeamOf(userID)
	if team == "" {
		return "", fmt.Errorf("player %s has no team: %w", userID, models.ErrInvalidStateTransition)
	}
	return team, nil
}

// CapturePoint solves the code challenge of a control point for the player's team. A capture by the
// team that already owns the point changes nothing and logs nothing.
func (s *Service) CapturePoint(ctx context.Context, controlPointID uuid.UUID, userID, code string) (models.ControlPointTime, error) {
	match, cp, _, err := s.loadControlPoint(ctx, controlPointID)
	if err != nil {
		return models.ControlPointTime{}, err
	}
	if cp.CaptureCode == "" {
		return models.ControlPointTime{}, fmt.Errorf("capture on %s: %w", cp.ID, models.ErrChallengeDisabled)
	}
	if code != cp.CaptureCode {
		return models.ControlPointTime{}, fmt.Errorf("capture on %s: %w", cp.ID, models.ErrInvalidCode)
	}
	team, err := playerTeam(match, userID)
	if err != nil {
		return models.ControlPointTime{}, err
	}

	event, appended, err := s.history.AppendIf(ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if err := requireRunning(match, history, s.clock.Now()); err != nil {
			return nil, err
		}
		if timeline.CurrentOwner(cp.ID, history) == team {
			return nil, nil
		}
		return models.PointCapturedPayload{
			ControlPointID:  cp.ID,
			Team:            team,
			CapturingUserID: userID,
			Source:          models.CaptureSourceCode,
		}, nil
	})
	if err != nil {
		return models.ControlPointTime{}, err
	}

	history, err := s.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return models.ControlPointTime{}, err
	}
	cpt := timeline.ControlPointTimeOf(cp, history, s.clock.Now())
	if !appended {
		return cpt, nil
	}

	log.Info().
		Str("match_id", match.ID.String()).
		Str("control_point_id", cp.ID.String()).
		Str("team", team).
		Str("user_id", userID).
		Str("event_id", event.ID.String()).
		Msg("control point captured by code")

	s.broadcaster.Broadcast(match.ID, models.ChannelControlPointTimeUpdate, cpt)
	if cp.PositionChallenge != nil {
		s.broadcaster.Broadcast(match.ID, models.ChannelAreaControlUpdate, models.AreaControlUpdate{
			ControlPointID: cp.ID,
			Points:         areacontrol.Display(cp.ID, history, s.area.Policy().CaptureThreshold),
			CapturedBy:     &team,
		})
	}
	return cpt, nil
}

// ArmBomb arms the bomb of a control point and starts its countdown loop.
func (s *Service) ArmBomb(ctx context.Context, controlPointID uuid.UUID, userID, code string) (*models.BombTimeData, error) {
	match, cp, _, err := s.loadControlPoint(ctx, controlPointID)
	if err != nil {
		return nil, err
	}
	if cp.BombChallenge == nil {
		return nil, fmt.Errorf("bomb on %s: %w", cp.ID, models.ErrChallengeDisabled)
	}
	if code != cp.BombChallenge.ArmCode {
		return nil, fmt.Errorf("arm bomb on %s: %w", cp.ID, models.ErrInvalidCode)
	}
	team, err := playerTeam(match, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	event, _, err := s.history.AppendIf(ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if err := requireRunning(match, history, now); err != nil {
			return nil, err
		}
		if _, armed := timeline.RemainingBombTime(cp.ID, history, now); armed {
			return nil, fmt.Errorf("bomb on %s already armed: %w", cp.ID, models.ErrInvalidStateTransition)
		}
		return models.BombArmedPayload{
			ControlPointID:       cp.ID,
			Team:                 team,
			UserID:               userID,
			TotalBombTimeSeconds: cp.BombChallenge.TotalTimeSeconds,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.loops.StartBomb(match.ID, cp.ID)

	log.Info().
		Str("match_id", match.ID.String()).
		Str("control_point_id", cp.ID.String()).
		Str("team", team).
		Str("event_id", event.ID.String()).
		Int("bomb_time", cp.BombChallenge.TotalTimeSeconds).
		Msg("bomb armed")

	history, err := s.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return nil, err
	}
	bomb := timeline.BombTimeOf(cp, history, s.clock.Now())
	if bomb != nil {
		s.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, bomb)
	}
	return bomb, nil
}

// DisarmBomb disarms an armed bomb and stops its countdown loop. A bomb whose countdown already
// reached zero cannot be disarmed: it is logged as exploded instead and the call fails with
// ErrInvalidStateTransition.
func (s *Service) DisarmBomb(ctx context.Context, controlPointID uuid.UUID, userID, code string) (*models.BombTimeData, error) {
	match, cp, _, err := s.loadControlPoint(ctx, controlPointID)
	if err != nil {
		return nil, err
	}
	if cp.BombChallenge == nil {
		return nil, fmt.Errorf("bomb on %s: %w", cp.ID, models.ErrChallengeDisabled)
	}
	if code != cp.BombChallenge.DisarmCode {
		return nil, fmt.Errorf("disarm bomb on %s: %w", cp.ID, models.ErrInvalidCode)
	}
	team, err := playerTeam(match, userID)
	if err != nil {
		return nil, err
	}

	var (
		bomb     timeline.BombTime
		exploded bool
	)
	now := s.clock.Now()
	event, _, err := s.history.AppendIf(ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if err := requireRunning(match, history, now); err != nil {
			return nil, err
		}
		bt, armed := timeline.RemainingBombTime(cp.ID, history, now)
		if !armed {
			return nil, fmt.Errorf("bomb on %s not armed: %w", cp.ID, models.ErrInvalidStateTransition)
		}
		bomb = bt
		if bt.Remaining <= 0 {
			exploded = true
			return models.BombExplodedPayload{ControlPointID: cp.ID, Team: bt.ArmedByTeam}, nil
		}
		return models.BombDisarmedPayload{ControlPointID: cp.ID, Team: team, UserID: userID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.loops.StopBomb(cp.ID)

	if exploded {
		log.Info().
			Str("match_id", match.ID.String()).
			Str("control_point_id", cp.ID.String()).
			Str("event_id", event.ID.String()).
			Str("armed_by", bomb.ArmedByTeam).
			Msg("bomb exploded before disarm")
		s.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, &models.BombTimeData{
			ControlPointID: cp.ID,
			Status:         models.BombExploded,
			TotalTime:      timeline.Seconds(bomb.Total),
			ArmedByTeam:    bomb.ArmedByTeam,
			DisplayTime:    timeline.FormatTime(0),
		})
		return nil, fmt.Errorf("bomb on %s already exploded: %w", cp.ID, models.ErrInvalidStateTransition)
	}

	remaining := timeline.Seconds(bomb.Remaining)
	data := &models.BombTimeData{
		ControlPointID: cp.ID,
		Status:         models.BombDisarmed,
		RemainingTime:  remaining,
		TotalTime:      timeline.Seconds(bomb.Total),
		ArmedByTeam:    bomb.ArmedByTeam,
		DisplayTime:    timeline.FormatTime(remaining),
	}
	log.Info().
		Str("match_id", match.ID.String()).
		Str("control_point_id", cp.ID.String()).
		Str("team", team).
		Int("remaining", remaining).
		Msg("bomb disarmed")
	s.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, data)
	return data, nil
}
