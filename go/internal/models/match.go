package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the status the match directory reports for a match.
type MatchStatus string

const (
	MatchStatusStopped MatchStatus = "stopped"
	MatchStatusRunning MatchStatus = "running"
	MatchStatusPaused  MatchStatus = "paused"
	MatchStatusEnded   MatchStatus = "ended"
)

// LifecycleAction is a requested match state change.
type LifecycleAction string

const (
	ActionStart   LifecycleAction = "start"
	ActionPause   LifecycleAction = "pause"
	ActionResume  LifecycleAction = "resume"
	ActionEnd     LifecycleAction = "end"
	ActionRestart LifecycleAction = "restart"
)

// Match is a game whose timers are reconstructed from the history of its instance.
type Match struct {
	ID         uuid.UUID   `json:"id"`
	InstanceID uuid.UUID   `json:"instanceId"`
	Name       string      `json:"name"`
	Status     MatchStatus `json:"status"`

	// TotalTimeSeconds is nil for matches without a countdown.
	TotalTimeSeconds *int           `json:"totalTime,omitempty"`
	Teams            []string       `json:"teams"`
	Players          []Player       `json:"players"`
	ControlPoints    []ControlPoint `json:"controlPoints"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// TotalTime returns the configured match duration and whether the match is time-boxed.
func (m *Match) TotalTime() (time.Duration, bool) {
	if m.TotalTimeSeconds == nil {
		return 0, false
	}
	return time.Duration(*m.TotalTimeSeconds) * time.Second, true
}

// ControlPoint returns the control point with the given id.
func (m *Match) ControlPoint(id uuid.UUID) (*ControlPoint, bool) {
	for i := range m.ControlPoints {
		if m.ControlPoints[i].ID == id {
			return &m.ControlPoints[i], true
		}
	}
	return nil, false
}

// TeamOf returns the team of a participant, or "" when the user is unknown or unassigned.
func (m *Match) TeamOf(userID string) string {
	for _, p := range m.Players {
		if p.UserID == userID {
			return p.Team
		}
	}
	return ""
}

// ControlPoint is a capturable location on the map.
type ControlPoint struct {
	ID        uuid.UUID `json:"id"`
	MatchID   uuid.UUID `json:"matchId"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	// CaptureCode enables the code challenge when non-empty.
	CaptureCode       string             `json:"-"`
	PositionChallenge *PositionChallenge `json:"positionChallenge,omitempty"`
	BombChallenge     *BombChallenge     `json:"bombChallenge,omitempty"`
}

// PositionChallenge configures area control for a control point.
type PositionChallenge struct {
	MinDistanceMeters float64 `json:"minDistanceMeters"`
	MinAccuracyMeters float64 `json:"minAccuracyMeters"`
}

// BombChallenge configures the bomb on a control point.
type BombChallenge struct {
	ArmCode          string `json:"-"`
	DisarmCode       string `json:"-"`
	TotalTimeSeconds int    `json:"totalTime"`
}

// Player is a match participant. An empty Team means the player is not assigned yet.
type Player struct {
	UserID string `json:"userId"`
	Team   string `json:"team"`
}
