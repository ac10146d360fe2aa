package models

import "github.com/google/uuid"

// GameTime is the match clock as shown to clients. RemainingTime and TotalTime are nil for
// matches without a countdown.
type GameTime struct {
	RemainingTime *int `json:"remainingTime"`
	TotalTime     *int `json:"totalTime"`
	PlayedTime    int  `json:"playedTime"`
}

// ControlPointTime is the hold clock of one control point.
type ControlPointTime struct {
	ControlPointID  uuid.UUID `json:"controlPointId"`
	CurrentHoldTime int       `json:"currentHoldTime"`
	CurrentTeam     *string   `json:"currentTeam"`
	DisplayTime     string    `json:"displayTime"`
}

// BombStatus is the state reported with a bomb update.
type BombStatus string

const (
	BombArmed    BombStatus = "armed"
	BombDisarmed BombStatus = "disarmed"
	BombExploded BombStatus = "exploded"
)

// BombTimeData is the countdown of a bomb. IsActive is false while the match is paused.
type BombTimeData struct {
	ControlPointID uuid.UUID  `json:"controlPointId"`
	Status         BombStatus `json:"status"`
	RemainingTime  int        `json:"remainingTime"`
	TotalTime      int        `json:"totalTime"`
	IsActive       bool       `json:"isActive"`
	ArmedByTeam    string     `json:"armedByTeam,omitempty"`
	DisplayTime    string     `json:"displayTime"`
}

// ResultsReport summarises a match from its history.
type ResultsReport struct {
	MatchID            uuid.UUID            `json:"matchId"`
	GameDuration       int                  `json:"gameDuration"`
	ControlPoints      []ControlPointResult `json:"controlPoints"`
	TeamTotals         map[string]int       `json:"teamTotals"`
	PlayerCaptureStats []PlayerCaptureStat  `json:"playerCaptureStats"`
	AreaControlStats   AreaControlStats     `json:"areaControlStats"`
}

// ControlPointResult holds the end-of-match figures for one control point.
type ControlPointResult struct {
	ControlPointID uuid.UUID      `json:"controlPointId"`
	Name           string         `json:"name"`
	TeamTimes      map[string]int `json:"teamTimes"`
	FinalTeam      *string        `json:"finalTeam"`
	Captures       int            `json:"captures"`
	BombsArmed     int            `json:"bombsArmed"`
	BombsDisarmed  int            `json:"bombsDisarmed"`
	BombsExploded  int            `json:"bombsExploded"`
}

// PlayerCaptureStat counts the captures credited to one player.
type PlayerCaptureStat struct {
	UserID        string `json:"userId"`
	Team          string `json:"team"`
	CodeCaptures  int    `json:"codeCaptures"`
	AreaCaptures  int    `json:"areaCaptures"`
	BombsArmed    int    `json:"bombsArmed"`
	BombsDisarmed int    `json:"bombsDisarmed"`
}

// AreaControlStats totals area-control points per team and per player.
type AreaControlStats struct {
	TeamPoints   map[string]float64 `json:"teamPoints"`
	PlayerPoints map[string]float64 `json:"playerPoints"`
}
