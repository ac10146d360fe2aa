package matchdir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/sqlutil"
)

const (
	insertMatch = `
INSERT INTO matches (id, instance_id, name, status, total_time_seconds, teams, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertPlayer = `
INSERT INTO match_players (match_id, user_id, team) VALUES ($1, $2, $3)`

	insertControlPoint = `
INSERT INTO control_points (
    id, match_id, name, latitude, longitude, capture_code,
    position_challenge, min_distance_meters, min_accuracy_meters,
    bomb_challenge, arm_code, disarm_code, bomb_time_seconds
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectMatch = `
SELECT id, instance_id, name, status, total_time_seconds, teams, created_at
FROM matches WHERE id = $1`

	selectPlayers = `
SELECT user_id, team FROM match_players WHERE match_id = $1 ORDER BY user_id`

	selectControlPoints = `
SELECT id, match_id, name, latitude, longitude, capture_code,
       position_challenge, min_distance_meters, min_accuracy_meters,
       bomb_challenge, arm_code, disarm_code, bomb_time_seconds
FROM control_points WHERE match_id = $1 ORDER BY name, id`

	selectMatchForControlPoint = `
SELECT match_id FROM control_points WHERE id = $1`

	selectMatchIDsByStatus = `
SELECT id FROM matches WHERE status = $1 ORDER BY created_at`

	updateMatchStatus = `
UPDATE matches SET status = $2 WHERE id = $1`
)

// queries binds the directory's SQL to a connection or a transaction.
type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries { return &queries{db: db} }

type PostgresStore struct {
	db *sql.DB
	q  *queries
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: newQueries(db)}
}

func (s *PostgresStore) CreateMatch(ctx context.Context, match *models.Match) error {
	status := match.Status
	if status == "" {
		status = models.MatchStatusStopped
	}
	return sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		if _, err := q.db.ExecContext(ctx, insertMatch,
			match.ID, match.InstanceID, match.Name, string(status),
			sqlutil.ToSqlInt32(match.TotalTimeSeconds), pq.Array(match.Teams), match.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		for _, p := range match.Players {
			if _, err := q.db.ExecContext(ctx, insertPlayer, match.ID, p.UserID, p.Team); err != nil {
				return fmt.Errorf("insert player %s: %w", p.UserID, err)
			}
		}
		for _, cp := range match.ControlPoints {
			if err := q.insertControlPoint(ctx, match.ID, cp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *queries) insertControlPoint(ctx context.Context, matchID uuid.UUID, cp models.ControlPoint) error {
	var (
		minDistance, minAccuracy sql.NullFloat64
		armCode, disarmCode      sql.NullString
		bombTime                 sql.NullInt32
	)
	if pc := cp.PositionChallenge; pc != nil {
		minDistance = sqlutil.ToSqlFloat64Direct(pc.MinDistanceMeters)
		minAccuracy = sqlutil.ToSqlFloat64Direct(pc.MinAccuracyMeters)
	}
	if bc := cp.BombChallenge; bc != nil {
		armCode = sqlutil.ToSqlStringDirect(bc.ArmCode)
		disarmCode = sqlutil.ToSqlStringDirect(bc.DisarmCode)
		bombTime = sqlutil.ToSqlInt32Direct(bc.TotalTimeSeconds)
	}
	captureCode := sqlutil.ToSqlStringNonEmpty(cp.CaptureCode)

	_, err := q.db.ExecContext(ctx, insertControlPoint,
		cp.ID, matchID, cp.Name, cp.Latitude, cp.Longitude, captureCode,
		cp.PositionChallenge != nil, minDistance, minAccuracy,
		cp.BombChallenge != nil, armCode, disarmCode, bombTime,
	)
	if err != nil {
		return fmt.Errorf("insert control point %s: %w", cp.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	var (
		m      models.Match
		status string
		total  sql.NullInt32
		teams  pq.StringArray
	)
	err := s.q.db.QueryRowContext(ctx, selectMatch, matchID).
		Scan(&m.ID, &m.InstanceID, &m.Name, &status, &total, &teams, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", matchID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", matchID, err)
	}
	m.Status = models.MatchStatus(status)
	m.Teams = teams
	m.TotalTimeSeconds = sqlutil.FromSqlInt32(total)

	if m.Players, err = s.q.listPlayers(ctx, matchID); err != nil {
		return nil, err
	}
	if m.ControlPoints, err = s.q.listControlPoints(ctx, matchID); err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *queries) listPlayers(ctx context.Context, matchID uuid.UUID) ([]models.Player, error) {
	rows, err := q.db.QueryContext(ctx, selectPlayers, matchID)
	if err != nil {
		return nil, fmt.Errorf("list players of %s: %w", matchID, err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.UserID, &p.Team); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (q *queries) listControlPoints(ctx context.Context, matchID uuid.UUID) ([]models.ControlPoint, error) {
	rows, err := q.db.QueryContext(ctx, selectControlPoints, matchID)
	if err != nil {
		return nil, fmt.Errorf("list control points of %s: %w", matchID, err)
	}
	defer rows.Close()

	var cps []models.ControlPoint
	for rows.Next() {
		var (
			cp                       models.ControlPoint
			captureCode              sql.NullString
			hasPosition, hasBomb     bool
			minDistance, minAccuracy sql.NullFloat64
			armCode, disarmCode      sql.NullString
			bombTime                 sql.NullInt32
		)
		if err := rows.Scan(
			&cp.ID, &cp.MatchID, &cp.Name, &cp.Latitude, &cp.Longitude, &captureCode,
			&hasPosition, &minDistance, &minAccuracy,
			&hasBomb, &armCode, &disarmCode, &bombTime,
		); err != nil {
			return nil, fmt.Errorf("scan control point: %w", err)
		}
		cp.CaptureCode = sqlutil.FromSqlString(captureCode, "")
		if hasPosition {
			cp.PositionChallenge = &models.PositionChallenge{
				MinDistanceMeters: minDistance.Float64,
				MinAccuracyMeters: minAccuracy.Float64,
			}
		}
		if hasBomb {
			cp.BombChallenge = &models.BombChallenge{
				ArmCode:          sqlutil.FromSqlString(armCode, ""),
				DisarmCode:       sqlutil.FromSqlString(disarmCode, ""),
				TotalTimeSeconds: int(bombTime.Int32),
			}
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (s *PostgresStore) MatchForControlPoint(ctx context.Context, controlPointID uuid.UUID) (*models.Match, error) {
	var matchID uuid.UUID
	err := s.q.db.QueryRowContext(ctx, selectMatchForControlPoint, controlPointID).Scan(&matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("control point %s: %w", controlPointID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find match for control point %s: %w", controlPointID, err)
	}
	return s.GetMatch(ctx, matchID)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.MatchStatus) ([]*models.Match, error) {
	rows, err := s.q.db.QueryContext(ctx, selectMatchIDsByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s matches: %w", status, err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s matches: %w", status, err)
	}

	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error {
	res, err := s.q.db.ExecContext(ctx, updateMatchStatus, matchID, string(status))
	if err != nil {
		return fmt.Errorf("set status of %s: %w", matchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status of %s: %w", matchID, err)
	}
	if n == 0 {
		return fmt.Errorf("match %s: %w", matchID, models.ErrNotFound)
	}
	return nil
}
