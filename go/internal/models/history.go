package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of history event types.
type EventKind string

const (
	EventMatchStarted  EventKind = "match_started"
	EventMatchPaused   EventKind = "match_paused"
	EventMatchResumed  EventKind = "match_resumed"
	EventMatchEnded    EventKind = "match_ended"
	EventPointCaptured EventKind = "point_captured"
	EventBombArmed     EventKind = "bomb_armed"
	EventBombDisarmed  EventKind = "bomb_disarmed"
	EventBombExploded  EventKind = "bomb_exploded"
	EventAreaScoreTick EventKind = "area_score_tick"
)

// IsMatchLifecycle reports whether k is one of the match_* kinds.
func (k EventKind) IsMatchLifecycle() bool {
	switch k {
	case EventMatchStarted, EventMatchPaused, EventMatchResumed, EventMatchEnded:
		return true
	}
	return false
}

// Payload is the tagged union carried by a HistoryEvent. Each variant reports its own kind.
type Payload interface {
	Kind() EventKind
	sealed()
}

// MatchStartedPayload is logged on start and on restart.
type MatchStartedPayload struct {
	Restart bool `json:"restart,omitempty"`
}

// MatchPausedPayload is logged when a running match is paused.
type MatchPausedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// MatchResumedPayload is logged when a paused match resumes.
type MatchResumedPayload struct{}

// EndReason explains why a match ended.
type EndReason string

const (
	EndReasonManual      EndReason = "manual"
	EndReasonTimeExpired EndReason = "time_expired"
)

// MatchEndedPayload is logged when a match ends, manually or because its countdown expired.
type MatchEndedPayload struct {
	Reason EndReason `json:"reason,omitempty"`
}

// CaptureSource identifies which challenge produced an ownership change.
type CaptureSource string

const (
	CaptureSourceCode CaptureSource = "code"
	CaptureSourceArea CaptureSource = "area"
)

// PointCapturedPayload assigns a control point to a team. An empty Team means unowned.
type PointCapturedPayload struct {
	ControlPointID  uuid.UUID     `json:"controlPointId"`
	Team            string        `json:"team"`
	CapturingUserID string        `json:"capturingUserId,omitempty"`
	Source          CaptureSource `json:"source,omitempty"`
}

// BombArmedPayload starts a bomb countdown of TotalBombTimeSeconds on a control point.
type BombArmedPayload struct {
	ControlPointID       uuid.UUID `json:"controlPointId"`
	Team                 string    `json:"team"`
	UserID               string    `json:"userId,omitempty"`
	TotalBombTimeSeconds int       `json:"totalBombTime"`
}

// BombDisarmedPayload stops an armed bomb.
type BombDisarmedPayload struct {
	ControlPointID uuid.UUID `json:"controlPointId"`
	Team           string    `json:"team"`
	UserID         string    `json:"userId,omitempty"`
}

// BombExplodedPayload marks the end of a bomb countdown.
type BombExplodedPayload struct {
	ControlPointID uuid.UUID `json:"controlPointId"`
	Team           string    `json:"team,omitempty"`
}

// AreaScore is one player's share of an area-control tick.
type AreaScore struct {
	UserID string  `json:"userId"`
	Team   string  `json:"team"`
	Points float64 `json:"points"`
}

// AreaScoreTickPayload records the points awarded to players standing inside a control point's radius.
type AreaScoreTickPayload struct {
	ControlPointID uuid.UUID   `json:"controlPointId"`
	Scores         []AreaScore `json:"scores"`
}

// TeamPoints sums the tick's scores per team.
func (p AreaScoreTickPayload) TeamPoints() map[string]float64 {
	out := make(map[string]float64, len(p.Scores))
	for _, s := range p.Scores {
		out[s.Team] += s.Points
	}
	return out
}

func (MatchStartedPayload) Kind() EventKind  { return EventMatchStarted }
func (MatchPausedPayload) Kind() EventKind   { return EventMatchPaused }
func (MatchResumedPayload) Kind() EventKind  { return EventMatchResumed }
func (MatchEndedPayload) Kind() EventKind    { return EventMatchEnded }
func (PointCapturedPayload) Kind() EventKind { return EventPointCaptured }
func (BombArmedPayload) Kind() EventKind     { return EventBombArmed }
func (BombDisarmedPayload) Kind() EventKind  { return EventBombDisarmed }
func (BombExplodedPayload) Kind() EventKind  { return EventBombExploded }
func (AreaScoreTickPayload) Kind() EventKind { return EventAreaScoreTick }

func (MatchStartedPayload) sealed()  {}
func (MatchPausedPayload) sealed()   {}
func (MatchResumedPayload) sealed()  {}
func (MatchEndedPayload) sealed()    {}
func (PointCapturedPayload) sealed() {}
func (BombArmedPayload) sealed()     {}
func (BombDisarmedPayload) sealed()  {}
func (BombExplodedPayload) sealed()  {}
func (AreaScoreTickPayload) sealed() {}

// HistoryEvent is one immutable entry of a match instance's log.
type HistoryEvent struct {
	ID              uuid.UUID `json:"id"`
	MatchInstanceID uuid.UUID `json:"matchInstanceId"`
	EventType       EventKind `json:"eventType"`
	Data            Payload   `json:"data"`
	Timestamp       time.Time `json:"timestamp"`
}

// ControlPointID returns the control point the event refers to, or uuid.Nil for match_* events.
func (e HistoryEvent) ControlPointID() uuid.UUID {
	switch p := e.Data.(type) {
	case PointCapturedPayload:
		return p.ControlPointID
	case BombArmedPayload:
		return p.ControlPointID
	case BombDisarmedPayload:
		return p.ControlPointID
	case BombExplodedPayload:
		return p.ControlPointID
	case AreaScoreTickPayload:
		return p.ControlPointID
	}
	return uuid.Nil
}

// UnmarshalJSON decodes Data into the variant selected by eventType.
func (e *HistoryEvent) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID              uuid.UUID       `json:"id"`
		MatchInstanceID uuid.UUID       `json:"matchInstanceId"`
		EventType       EventKind       `json:"eventType"`
		Data            json.RawMessage `json:"data"`
		Timestamp       time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.EventType, raw.Data)
	if err != nil {
		return err
	}
	*e = HistoryEvent{
		ID:              raw.ID,
		MatchInstanceID: raw.MatchInstanceID,
		EventType:       raw.EventType,
		Data:            payload,
		Timestamp:       raw.Timestamp,
	}
	return nil
}

// DecodePayload parses raw JSON into the payload variant for kind. Empty or null data yields the
// zero value of the variant.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	switch kind {
	case EventMatchStarted:
		return decodeInto[MatchStartedPayload](kind, data)
	case EventMatchPaused:
		return decodeInto[MatchPausedPayload](kind, data)
	case EventMatchResumed:
		return decodeInto[MatchResumedPayload](kind, data)
	case EventMatchEnded:
		return decodeInto[MatchEndedPayload](kind, data)
	case EventPointCaptured:
		return decodeInto[PointCapturedPayload](kind, data)
	case EventBombArmed:
		return decodeInto[BombArmedPayload](kind, data)
	case EventBombDisarmed:
		return decodeInto[BombDisarmedPayload](kind, data)
	case EventBombExploded:
		return decodeInto[BombExplodedPayload](kind, data)
	case EventAreaScoreTick:
		return decodeInto[AreaScoreTickPayload](kind, data)
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
}

func decodeInto[T Payload](kind EventKind, data []byte) (Payload, error) {
	var p T
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", kind, err)
	}
	return p, nil
}
