// Package areacontrol turns live player positions into area_score_tick events and decides when a
// team has accumulated enough points to capture a control point.
package areacontrol

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
	"github.com/rs/zerolog/log"
)

// Policy holds the area-control constants.
type Policy struct {
	PointsPerTick    float64 `yaml:"points_per_tick"`
	CaptureThreshold float64 `yaml:"capture_threshold"`
	EarthRadiusKm    float64 `yaml:"earth_radius_km"`
}

func DefaultPolicy() Policy {
	return Policy{
		PointsPerTick:    20,
		CaptureThreshold: 60,
		EarthRadiusKm:    6371,
	}
}

// History is the part of the event log the engine needs.
type History interface {
	GetHistory(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error)
	AppendIf(ctx context.Context, instanceID uuid.UUID, guard func([]models.HistoryEvent) (models.Payload, error)) (models.HistoryEvent, bool, error)
}

// Outcome describes what one tick did to one control point.
type Outcome struct {
	ControlPointID uuid.UUID
	// Tick is nil when no player qualified.
	Tick *models.HistoryEvent
	// Capture is set when the tick pushed a non-owning team over the threshold.
	Capture *models.HistoryEvent
	Display map[string]float64
}

type Engine struct {
	policy     Policy
	positions  *Registry
	history    History
	minSpacing time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMinTickSpacing skips a control point's tick when the history already holds one for that point
// logged less than d ago. Every replica sharing a history runs the scoring loop; only the first to
// append for an interval scores it.
func WithMinTickSpacing(d time.Duration) EngineOption {
	return func(e *Engine) { e.minSpacing = d }
}

func NewEngine(policy Policy, positions *Registry, history History, opts ...EngineOption) *Engine {
	e := &Engine{policy: policy, positions: positions, history: history}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) Positions() *Registry { return e.positions }

// Score computes the tick payload for one control point. ok is false when no player with a team
// qualifies.
func (e *Engine) Score(cp models.ControlPoint, positions map[string]Position, teamOf func(userID string) string) (models.AreaScoreTickPayload, bool) {
	ch := cp.PositionChallenge
	if ch == nil {
		return models.AreaScoreTickPayload{}, false
	}

	type qualifier struct{ userID, team string }
	var qualifying []qualifier
	for userID, pos := range positions {
		team := teamOf(userID)
		if team == "" {
			continue
		}
		d := DistanceMeters(pos.Latitude, pos.Longitude, cp.Latitude, cp.Longitude, e.policy.EarthRadiusKm)
		if d <= ch.MinDistanceMeters && pos.Accuracy <= ch.MinAccuracyMeters {
			qualifying = append(qualifying, qualifier{userID: userID, team: team})
		}
	}
	if len(qualifying) == 0 {
		return models.AreaScoreTickPayload{}, false
	}
	sort.Slice(qualifying, func(i, j int) bool { return qualifying[i].userID < qualifying[j].userID })

	share := e.policy.PointsPerTick / float64(len(qualifying))
	payload := models.AreaScoreTickPayload{
		ControlPointID: cp.ID,
		Scores:         make([]models.AreaScore, 0, len(qualifying)),
	}
	for _, q := range qualifying {
		payload.Scores = append(payload.Scores, models.AreaScore{UserID: q.userID, Team: q.team, Points: share})
	}
	return payload, true
}

// Tick scores every position-challenge control point of a running match at now, logs the ticks and
// any resulting captures, and returns one outcome per control point that logged something. A match
// whose countdown has run out scores nothing.
func (e *Engine) Tick(ctx context.Context, match *models.Match, now time.Time) ([]Outcome, error) {
	positions := e.positions.Positions(match.ID)
	if len(positions) == 0 {
		return nil, nil
	}

	var outcomes []Outcome
	for _, cp := range match.ControlPoints {
		if cp.PositionChallenge == nil {
			continue
		}
		payload, ok := e.Score(cp, positions, match.TeamOf)
		if !ok {
			continue
		}
		out, err := e.apply(ctx, match, now, payload)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (e *Engine) apply(ctx context.Context, match *models.Match, now time.Time, payload models.AreaScoreTickPayload) (Outcome, error) {
	instanceID := match.InstanceID
	out := Outcome{ControlPointID: payload.ControlPointID}

	tick, appended, err := e.history.AppendIf(ctx, instanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if timeline.State(history) != timeline.StateRunning || timeline.Expired(match, history, now) {
			return nil, nil
		}
		if last, ok := lastTickAt(payload.ControlPointID, history); ok && e.minSpacing > 0 && now.Sub(last) < e.minSpacing {
			return nil, nil
		}
		return payload, nil
	})
	if err != nil {
		return out, fmt.Errorf("append area tick for %s: %w", payload.ControlPointID, err)
	}
	if !appended {
		return out, nil
	}
	out.Tick = &tick

	capture, captured, err := e.history.AppendIf(ctx, instanceID, CaptureGuard(payload.ControlPointID, e.policy.CaptureThreshold))
	if err != nil {
		return out, fmt.Errorf("append area capture for %s: %w", payload.ControlPointID, err)
	}
	if captured {
		out.Capture = &capture
		p := capture.Data.(models.PointCapturedPayload)
		log.Info().
			Str("match_instance_id", instanceID.String()).
			Str("control_point_id", p.ControlPointID.String()).
			Str("team", p.Team).
			Msg("control point captured by area control")
	}

	history, err := e.history.GetHistory(ctx, instanceID)
	if err != nil {
		return out, err
	}
	out.Display = Display(payload.ControlPointID, history, e.policy.CaptureThreshold)
	return out, nil
}

// lastTickAt returns the timestamp of the latest area tick of a control point in the current epoch.
func lastTickAt(controlPointID uuid.UUID, history []models.HistoryEvent) (time.Time, bool) {
	epoch := timeline.CurrentEpoch(history)
	for i := len(epoch) - 1; i >= 0; i-- {
		if p, ok := epoch[i].Data.(models.AreaScoreTickPayload); ok && p.ControlPointID == controlPointID {
			return epoch[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// Snapshot returns the display points of every position-challenge control point of the match.
func (e *Engine) Snapshot(match *models.Match, history []models.HistoryEvent) map[uuid.UUID]map[string]float64 {
	out := make(map[uuid.UUID]map[string]float64)
	for _, cp := range match.ControlPoints {
		if cp.PositionChallenge == nil {
			continue
		}
		out[cp.ID] = Display(cp.ID, history, e.policy.CaptureThreshold)
	}
	return out
}
