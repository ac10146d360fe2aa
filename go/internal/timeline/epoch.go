// Package timeline reconstructs match, hold and bomb clocks by replaying a match instance's history.
//
// Every function here is pure: given the same history snapshot and the same "now" it returns the
// same value, whether it is called once per second by a live loop or cold after a restart.
package timeline

import (
	"time"

	"github.com/mcdev12/capturezone/go/internal/models"
)

// RunState is the match state derived from the log.
type RunState string

const (
	StateStopped RunState = "stopped"
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
	StateEnded   RunState = "ended"
)

// Status maps the derived state onto the directory's status vocabulary.
func (s RunState) Status() models.MatchStatus {
	switch s {
	case StateRunning:
		return models.MatchStatusRunning
	case StatePaused:
		return models.MatchStatusPaused
	case StateEnded:
		return models.MatchStatusEnded
	default:
		return models.MatchStatusStopped
	}
}

// CurrentEpoch returns the part of history that belongs to the latest start of the match.
// A restart logs a fresh match_started after a match_ended; everything up to and including that
// match_ended belongs to an earlier epoch.
func CurrentEpoch(history []models.HistoryEvent) []models.HistoryEvent {
	lastStart := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].EventType == models.EventMatchStarted {
			lastStart = i
			break
		}
	}
	if lastStart < 0 {
		return history
	}
	for i := lastStart - 1; i >= 0; i-- {
		if history[i].EventType == models.EventMatchEnded {
			return history[i+1:]
		}
	}
	return history
}

// State derives the run state from the most recent match_* event of the current epoch.
func State(history []models.HistoryEvent) RunState {
	epoch := CurrentEpoch(history)
	for i := len(epoch) - 1; i >= 0; i-- {
		switch epoch[i].EventType {
		case models.EventMatchStarted, models.EventMatchResumed:
			return StateRunning
		case models.EventMatchPaused:
			return StatePaused
		case models.EventMatchEnded:
			return StateEnded
		}
	}
	return StateStopped
}

// StartedAt returns the timestamp of the match_started event opening the current epoch.
func StartedAt(history []models.HistoryEvent) (time.Time, bool) {
	epoch := CurrentEpoch(history)
	for i := len(epoch) - 1; i >= 0; i-- {
		if epoch[i].EventType == models.EventMatchStarted {
			return epoch[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// span returns the non-negative length of [from, to]. Out-of-order timestamps yield zero.
func span(from, to time.Time) time.Duration {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return d
}
