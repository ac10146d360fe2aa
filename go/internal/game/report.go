package game

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
)

// GetResultsReport summarises the current epoch of a match. It can be called at any time; for a
// match still running the figures are as of now.
func (s *Service) GetResultsReport(ctx context.Context, matchID uuid.UUID) (*models.ResultsReport, error) {
	match, history, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return buildReport(match, history, s.clock.Now()), nil
}

func buildReport(match *models.Match, history []models.HistoryEvent, now time.Time) *models.ResultsReport {
	running := timeline.State(history) == timeline.StateRunning
	epoch := timeline.CurrentEpoch(history)

	report := &models.ResultsReport{
		MatchID:       match.ID,
		GameDuration:  timeline.Seconds(timeline.ElapsedMatchTime(history, now, running)),
		ControlPoints: make([]models.ControlPointResult, 0, len(match.ControlPoints)),
		TeamTotals:    make(map[string]int),
		AreaControlStats: models.AreaControlStats{
			TeamPoints:   make(map[string]float64),
			PlayerPoints: make(map[string]float64),
		},
	}

	teams := reportTeams(match, epoch)
	for _, team := range teams {
		report.TeamTotals[team] = 0
	}

	byCP := make(map[uuid.UUID]*models.ControlPointResult, len(match.ControlPoints))
	for _, cp := range match.ControlPoints {
		result := models.ControlPointResult{
			ControlPointID: cp.ID,
			Name:           cp.Name,
			TeamTimes:      make(map[string]int, len(teams)),
		}
		for _, team := range teams {
			secs := timeline.Seconds(timeline.TeamHoldTime(cp.ID, team, history, now))
			result.TeamTimes[team] = secs
			report.TeamTotals[team] += secs
		}
		if owner := timeline.CurrentOwner(cp.ID, history); owner != "" {
			result.FinalTeam = &owner
		}
		report.ControlPoints = append(report.ControlPoints, result)
		byCP[cp.ID] = &report.ControlPoints[len(report.ControlPoints)-1]
	}

	players := make(map[string]*models.PlayerCaptureStat)
	player := func(userID, team string) *models.PlayerCaptureStat {
		p, ok := players[userID]
		if !ok {
			if t := match.TeamOf(userID); t != "" {
				team = t
			}
			p = &models.PlayerCaptureStat{UserID: userID, Team: team}
			players[userID] = p
		}
		return p
	}

	for _, e := range epoch {
		switch p := e.Data.(type) {
		case models.PointCapturedPayload:
			if r := byCP[p.ControlPointID]; r != nil {
				r.Captures++
			}
			if p.CapturingUserID == "" {
				continue
			}
			stat := player(p.CapturingUserID, p.Team)
			if p.Source == models.CaptureSourceArea {
				stat.AreaCaptures++
			} else {
				stat.CodeCaptures++
			}
		case models.BombArmedPayload:
			if r := byCP[p.ControlPointID]; r != nil {
				r.BombsArmed++
			}
			if p.UserID != "" {
				player(p.UserID, p.Team).BombsArmed++
			}
		case models.BombDisarmedPayload:
			if r := byCP[p.ControlPointID]; r != nil {
				r.BombsDisarmed++
			}
			if p.UserID != "" {
				player(p.UserID, p.Team).BombsDisarmed++
			}
		case models.BombExplodedPayload:
			if r := byCP[p.ControlPointID]; r != nil {
				r.BombsExploded++
			}
		case models.AreaScoreTickPayload:
			for _, sc := range p.Scores {
				report.AreaControlStats.TeamPoints[sc.Team] += sc.Points
				report.AreaControlStats.PlayerPoints[sc.UserID] += sc.Points
			}
		}
	}

	report.PlayerCaptureStats = make([]models.PlayerCaptureStat, 0, len(players))
	for _, p := range players {
		report.PlayerCaptureStats = append(report.PlayerCaptureStats, *p)
	}
	sort.Slice(report.PlayerCaptureStats, func(i, j int) bool {
		return report.PlayerCaptureStats[i].UserID < report.PlayerCaptureStats[j].UserID
	})
	return report
}

// reportTeams lists, sorted, the match's teams plus any team that captured a point.
func reportTeams(match *models.Match, epoch []models.HistoryEvent) []string {
	seen := make(map[string]bool)
	var teams []string
	add := func(team string) {
		if team != "" && !seen[team] {
			seen[team] = true
			teams = append(teams, team)
		}
	}
	for _, t := range match.Teams {
		add(t)
	}
	for _, p := range match.Players {
		add(p.Team)
	}
	for _, e := range epoch {
		if p, ok := e.Data.(models.PointCapturedPayload); ok {
			add(p.Team)
		}
	}
	sort.Strings(teams)
	return teams
}
