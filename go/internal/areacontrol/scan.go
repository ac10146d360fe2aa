package areacontrol

import (
	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
)

// thresholdEpsilon absorbs float error from shares like 20/3.
const thresholdEpsilon = 1e-9

// ScanResult is the outcome of the backward scan over a control point's area ticks.
type ScanResult struct {
	// Points per team, summed from the newest tick back to the reset boundary or to the tick that
	// produced a winner.
	Points map[string]float64
	// PlayerPoints per user over the same ticks.
	PlayerPoints map[string]float64
	// Winner is the first team whose running sum reached the threshold, or "".
	Winner string
	// Ticks is the number of ticks consumed by the scan.
	Ticks   int
	players map[string]string
}

// resetBoundary returns the index in epoch of the latest capture of the control point, falling back
// to the latest match_started. -1 means there is no boundary.
func resetBoundary(controlPointID uuid.UUID, epoch []models.HistoryEvent) int {
	start := -1
	for i := len(epoch) - 1; i >= 0; i-- {
		switch p := epoch[i].Data.(type) {
		case models.PointCapturedPayload:
			if p.ControlPointID == controlPointID {
				return i
			}
		case models.MatchStartedPayload:
			if start < 0 {
				start = i
			}
		}
	}
	return start
}

// Scan walks the control point's area_score_tick events newest-first, stopping at the reset
// boundary or as soon as a team's running sum reaches threshold.
func Scan(controlPointID uuid.UUID, history []models.HistoryEvent, threshold float64) ScanResult {
	epoch := timeline.CurrentEpoch(history)
	boundary := resetBoundary(controlPointID, epoch)

	res := ScanResult{
		Points:       make(map[string]float64),
		PlayerPoints: make(map[string]float64),
		players:      make(map[string]string),
	}
	for i := len(epoch) - 1; i > boundary; i-- {
		tick, ok := epoch[i].Data.(models.AreaScoreTickPayload)
		if !ok || tick.ControlPointID != controlPointID {
			continue
		}
		res.Ticks++
		for _, s := range tick.Scores {
			if s.Team == "" {
				continue
			}
			res.Points[s.Team] += s.Points
			res.PlayerPoints[s.UserID] += s.Points
			res.players[s.UserID] = s.Team
		}
		if team := leader(res.Points, threshold); team != "" {
			res.Winner = team
			return res
		}
	}
	return res
}

// leader returns the team with the highest sum at or above threshold. Ties go to the
// lexicographically smaller team so replays agree.
func leader(points map[string]float64, threshold float64) string {
	var (
		best  string
		bestP float64
	)
	for team, p := range points {
		if p+thresholdEpsilon < threshold {
			continue
		}
		if best == "" || p > bestP || (p == bestP && team < best) {
			best, bestP = team, p
		}
	}
	return best
}

// TopScorer returns the player of team with the most points in the scan, ties broken by user id.
func (r ScanResult) TopScorer(team string) string {
	var (
		best  string
		bestP float64
	)
	for userID, p := range r.PlayerPoints {
		if r.players[userID] != team {
			continue
		}
		if best == "" || p > bestP || (p == bestP && userID < best) {
			best, bestP = userID, p
		}
	}
	return best
}

// Display returns the since-reset points per team for the UI, capped at threshold. A point that is
// owned and has no ticks since its last capture shows its owner full.
func Display(controlPointID uuid.UUID, history []models.HistoryEvent, threshold float64) map[string]float64 {
	res := Scan(controlPointID, history, threshold)
	owner := timeline.CurrentOwner(controlPointID, history)
	if res.Ticks == 0 && owner != "" {
		return map[string]float64{owner: threshold}
	}
	out := make(map[string]float64, len(res.Points))
	for team, p := range res.Points {
		if p > threshold {
			p = threshold
		}
		out[team] = p
	}
	return out
}

// CaptureGuard builds a conditional-append guard that re-runs the scan on the freshest history and
// returns a point_captured payload only if a winner exists that does not own the point yet and the
// match is still running.
func CaptureGuard(controlPointID uuid.UUID, threshold float64) func([]models.HistoryEvent) (models.Payload, error) {
	return func(history []models.HistoryEvent) (models.Payload, error) {
		if timeline.State(history) != timeline.StateRunning {
			return nil, nil
		}
		res := Scan(controlPointID, history, threshold)
		if res.Winner == "" || res.Winner == timeline.CurrentOwner(controlPointID, history) {
			return nil, nil
		}
		return models.PointCapturedPayload{
			ControlPointID:  controlPointID,
			Team:            res.Winner,
			CapturingUserID: res.TopScorer(res.Winner),
			Source:          models.CaptureSourceArea,
		}, nil
	}
}
