package timeline

import (
	"time"

	"github.com/mcdev12/capturezone/go/internal/models"
)

// GameTimeOf builds the client view of the match clock.
func GameTimeOf(match *models.Match, history []models.HistoryEvent, now time.Time) models.GameTime {
	elapsed := ElapsedMatchTime(history, now, State(history) == StateRunning)
	gt := models.GameTime{PlayedTime: Seconds(elapsed)}

	total, timed := match.TotalTime()
	if !timed {
		return gt
	}
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	totalSec, remainingSec := Seconds(total), Seconds(remaining)
	gt.TotalTime = &totalSec
	gt.RemainingTime = &remainingSec
	return gt
}

// Expired reports whether a time-boxed match has used up its countdown.
func Expired(match *models.Match, history []models.HistoryEvent, now time.Time) bool {
	total, timed := match.TotalTime()
	if !timed {
		return false
	}
	return ElapsedMatchTime(history, now, State(history) == StateRunning) >= total
}

// ControlPointTimeOf builds the hold clock of one control point for its current owner.
func ControlPointTimeOf(cp *models.ControlPoint, history []models.HistoryEvent, now time.Time) models.ControlPointTime {
	owner := CurrentOwner(cp.ID, history)
	hold := Seconds(AccumulatedHoldTime(cp.ID, history, owner, now))

	cpt := models.ControlPointTime{
		ControlPointID:  cp.ID,
		CurrentHoldTime: hold,
		DisplayTime:     FormatTime(hold),
	}
	if owner != "" {
		cpt.CurrentTeam = &owner
	}
	return cpt
}

// ControlPointTimesOf builds the hold clocks of every control point of the match.
func ControlPointTimesOf(match *models.Match, history []models.HistoryEvent, now time.Time) []models.ControlPointTime {
	out := make([]models.ControlPointTime, 0, len(match.ControlPoints))
	for i := range match.ControlPoints {
		out = append(out, ControlPointTimeOf(&match.ControlPoints[i], history, now))
	}
	return out
}

// BombTimeOf returns the countdown of the bomb on a control point, or nil when no bomb is armed.
func BombTimeOf(cp *models.ControlPoint, history []models.HistoryEvent, now time.Time) *models.BombTimeData {
	bt, ok := RemainingBombTime(cp.ID, history, now)
	if !ok {
		return nil
	}
	remaining := Seconds(bt.Remaining)
	return &models.BombTimeData{
		ControlPointID: cp.ID,
		Status:         models.BombArmed,
		RemainingTime:  remaining,
		TotalTime:      Seconds(bt.Total),
		IsActive:       bt.Counting,
		ArmedByTeam:    bt.ArmedByTeam,
		DisplayTime:    FormatTime(remaining),
	}
}
