package timeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

// ElapsedMatchTime returns how long the match has been running in the current epoch.
// running is supplied by the caller: a live match may not have its match_ended logged yet, so the
// open segment is only extended to now when the caller confirms the match is still running.
func ElapsedMatchTime(history []models.HistoryEvent, now time.Time, running bool) time.Duration {
	var (
		total        time.Duration
		segmentOpen  bool
		segmentStart time.Time
	)
	for _, e := range CurrentEpoch(history) {
		switch e.EventType {
		case models.EventMatchStarted, models.EventMatchResumed:
			if !segmentOpen {
				segmentOpen = true
				segmentStart = e.Timestamp
			}
		case models.EventMatchPaused, models.EventMatchEnded:
			if segmentOpen {
				total += span(segmentStart, e.Timestamp)
				segmentOpen = false
			}
		}
	}
	if segmentOpen && running {
		total += span(segmentStart, now)
	}
	return total
}

// AccumulatedHoldTime returns how long currentOwner has held the control point while the match
// was running. An unowned point has no hold time.
func AccumulatedHoldTime(controlPointID uuid.UUID, history []models.HistoryEvent, currentOwner string, now time.Time) time.Duration {
	if currentOwner == "" {
		return 0
	}
	return holdTime(controlPointID, currentOwner, history, now)
}

// TeamHoldTime returns how long team held the control point while the match was running,
// regardless of who owns it now.
func TeamHoldTime(controlPointID uuid.UUID, team string, history []models.HistoryEvent, now time.Time) time.Duration {
	if team == "" {
		return 0
	}
	return holdTime(controlPointID, team, history, now)
}

// holdTime merges the point's captures with the match lifecycle into one timeline. An interval is
// open while the match runs and team is the holder; captures by the holding team are no-ops.
func holdTime(controlPointID uuid.UUID, team string, history []models.HistoryEvent, now time.Time) time.Duration {
	var (
		total     time.Duration
		running   bool
		holder    string
		open      bool
		openStart time.Time
	)
	closeInterval := func(at time.Time) {
		if open {
			total += span(openStart, at)
			open = false
		}
	}
	openInterval := func(at time.Time) {
		if !open && running && holder == team {
			open = true
			openStart = at
		}
	}

	for _, e := range CurrentEpoch(history) {
		switch p := e.Data.(type) {
		case models.MatchStartedPayload, models.MatchResumedPayload:
			running = true
			openInterval(e.Timestamp)
		case models.MatchPausedPayload, models.MatchEndedPayload:
			closeInterval(e.Timestamp)
			running = false
		case models.PointCapturedPayload:
			if p.ControlPointID != controlPointID || p.Team == holder {
				continue
			}
			closeInterval(e.Timestamp)
			holder = p.Team
			openInterval(e.Timestamp)
		}
	}
	if open && running {
		total += span(openStart, now)
	}
	return total
}

// CurrentOwner returns the team assigned by the latest capture of the control point in the current
// epoch. The empty string means unowned.
func CurrentOwner(controlPointID uuid.UUID, history []models.HistoryEvent) string {
	epoch := CurrentEpoch(history)
	for i := len(epoch) - 1; i >= 0; i-- {
		if p, ok := epoch[i].Data.(models.PointCapturedPayload); ok && p.ControlPointID == controlPointID {
			return p.Team
		}
	}
	return ""
}

// BombTime is the reconstructed countdown of an armed bomb.
type BombTime struct {
	ControlPointID uuid.UUID
	Remaining      time.Duration
	Total          time.Duration
	ArmedByTeam    string
	ArmedAt        time.Time
	// Counting is false while the match is paused; the countdown is frozen.
	Counting bool
}

// RemainingBombTime replays the bomb events of a control point against the match lifecycle and
// counts down from the armed total while the match runs. It returns false when no bomb is armed.
func RemainingBombTime(controlPointID uuid.UUID, history []models.HistoryEvent, now time.Time) (BombTime, bool) {
	var (
		bomb      BombTime
		armed     bool
		running   bool
		open      bool
		openStart time.Time
	)
	closeInterval := func(at time.Time) {
		if open {
			bomb.Remaining -= span(openStart, at)
			if bomb.Remaining < 0 {
				bomb.Remaining = 0
			}
			open = false
		}
	}

	for _, e := range CurrentEpoch(history) {
		switch p := e.Data.(type) {
		case models.MatchStartedPayload, models.MatchResumedPayload:
			running = true
			if armed && !open {
				open = true
				openStart = e.Timestamp
			}
		case models.MatchPausedPayload, models.MatchEndedPayload:
			closeInterval(e.Timestamp)
			running = false
		case models.BombArmedPayload:
			if p.ControlPointID != controlPointID {
				continue
			}
			open = false
			armed = true
			bomb = BombTime{
				ControlPointID: controlPointID,
				Remaining:      time.Duration(p.TotalBombTimeSeconds) * time.Second,
				Total:          time.Duration(p.TotalBombTimeSeconds) * time.Second,
				ArmedByTeam:    p.Team,
				ArmedAt:        e.Timestamp,
			}
			if running {
				open = true
				openStart = e.Timestamp
			}
		case models.BombDisarmedPayload:
			if p.ControlPointID != controlPointID {
				continue
			}
			closeInterval(e.Timestamp)
			armed = false
		case models.BombExplodedPayload:
			if p.ControlPointID != controlPointID {
				continue
			}
			closeInterval(e.Timestamp)
			armed = false
		}
	}
	if !armed {
		return BombTime{}, false
	}
	if open {
		bomb.Remaining -= span(openStart, now)
		if bomb.Remaining < 0 {
			bomb.Remaining = 0
		}
	}
	bomb.Counting = open
	return bomb, true
}

// Seconds truncates d to whole seconds.
func Seconds(d time.Duration) int {
	return int(d / time.Second)
}

// FormatTime renders whole seconds as zero-padded MM:SS. There is no hour component, so values of
// 6000 seconds or more render with more than two minute digits.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
