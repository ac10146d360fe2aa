package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/matchdir"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// The seed file carries the challenge codes, which the JSON model never exposes.
type seedFile struct {
	Matches []seedMatch `yaml:"matches"`
}

type seedMatch struct {
	ID               string             `yaml:"id"`
	Name             string             `yaml:"name"`
	TotalTimeSeconds *int               `yaml:"total_time_seconds"`
	Teams            []string           `yaml:"teams"`
	Players          []seedPlayer       `yaml:"players"`
	ControlPoints    []seedControlPoint `yaml:"control_points"`
}

type seedPlayer struct {
	UserID string `yaml:"user_id"`
	Team   string `yaml:"team"`
}

type seedControlPoint struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	CaptureCode string  `yaml:"capture_code"`
	Position    *struct {
		MinDistanceMeters float64 `yaml:"min_distance_meters"`
		MinAccuracyMeters float64 `yaml:"min_accuracy_meters"`
	} `yaml:"position_challenge"`
	Bomb *struct {
		ArmCode          string `yaml:"arm_code"`
		DisarmCode       string `yaml:"disarm_code"`
		TotalTimeSeconds int    `yaml:"total_time_seconds"`
	} `yaml:"bomb_challenge"`
}

func parseOrNew(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func (sm seedMatch) toModel(now time.Time) (*models.Match, error) {
	id, err := parseOrNew(sm.ID)
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", sm.Name, err)
	}
	match := &models.Match{
		ID:               id,
		InstanceID:       uuid.New(),
		Name:             sm.Name,
		Status:           models.MatchStatusStopped,
		TotalTimeSeconds: sm.TotalTimeSeconds,
		Teams:            sm.Teams,
		CreatedAt:        now,
	}
	for _, p := range sm.Players {
		match.Players = append(match.Players, models.Player{UserID: p.UserID, Team: p.Team})
	}
	for _, scp := range sm.ControlPoints {
		cpID, err := parseOrNew(scp.ID)
		if err != nil {
			return nil, fmt.Errorf("control point %q: %w", scp.Name, err)
		}
		cp := models.ControlPoint{
			ID:          cpID,
			MatchID:     id,
			Name:        scp.Name,
			Latitude:    scp.Latitude,
			Longitude:   scp.Longitude,
			CaptureCode: scp.CaptureCode,
		}
		if scp.Position != nil {
			cp.PositionChallenge = &models.PositionChallenge{
				MinDistanceMeters: scp.Position.MinDistanceMeters,
				MinAccuracyMeters: scp.Position.MinAccuracyMeters,
			}
		}
		if scp.Bomb != nil {
			cp.BombChallenge = &models.BombChallenge{
				ArmCode:          scp.Bomb.ArmCode,
				DisarmCode:       scp.Bomb.DisarmCode,
				TotalTimeSeconds: scp.Bomb.TotalTimeSeconds,
			}
		}
		match.ControlPoints = append(match.ControlPoints, cp)
	}
	return match, nil
}

// seedMatches loads matches from a YAML file into the directory. Matches that already exist are
// skipped.
func seedMatches(ctx context.Context, store matchdir.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	now := time.Now().UTC()
	created := 0
	for _, sm := range seed.Matches {
		match, err := sm.toModel(now)
		if err != nil {
			return err
		}
		if _, err := store.GetMatch(ctx, match.ID); err == nil {
			log.Debug().Str("match_id", match.ID.String()).Msg("seed match already exists")
			continue
		}
		if err := store.CreateMatch(ctx, match); err != nil {
			return fmt.Errorf("failed to seed match %s: %w", match.ID, err)
		}
		created++
	}

	log.Info().Int("matches", created).Str("file", path).Msg("seeded matches")
	return nil
}
