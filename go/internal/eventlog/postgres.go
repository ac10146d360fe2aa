package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

const (
	insertHistoryEvent = `
INSERT INTO history_events (id, match_instance_id, event_type, data, created_at)
VALUES ($1, $2, $3, $4, $5)`

	listHistoryEvents = `
SELECT id, match_instance_id, event_type, data, created_at
FROM history_events
WHERE match_instance_id = $1
ORDER BY seq`

	listHistoryEventsAfter = listHistoryEvents + `
OFFSET $2`

	lockHistoryInstance = `SELECT pg_advisory_xact_lock(hashtext($1::text))`
)

// PostgresRepository stores history in the history_events table. Inserts fire a NOTIFY on the
// history_events channel through a table trigger.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type historyQueries struct {
	db sqlutil.DBTX
}

func newHistoryQueries(db sqlutil.DBTX) *historyQueries {
	return &historyQueries{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, event models.HistoryEvent) error {
	return newHistoryQueries(r.db).insert(ctx, event)
}

func (r *PostgresRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error) {
	return newHistoryQueries(r.db).list(ctx, listHistoryEvents, instanceID)
}

// WithInstanceLock runs fn in a transaction holding the instance's advisory lock. Every process
// appending through a PostgresRepository takes the same lock, so inserts for one instance are
// serialized across replicas and seq order matches lock order.
func (r *PostgresRepository) WithInstanceLock(ctx context.Context, instanceID uuid.UUID, known int, fn LockedFunc) error {
	return sqlutil.Run(ctx, r.db, newHistoryQueries, func(q *historyQueries) error {
		if _, err := q.db.ExecContext(ctx, lockHistoryInstance, instanceID.String()); err != nil {
			return fmt.Errorf("lock history for %s: %w", instanceID, err)
		}
		missed, err := q.list(ctx, listHistoryEventsAfter, instanceID, known)
		if err != nil {
			return err
		}
		return fn(missed, func(event models.HistoryEvent) error {
			return q.insert(ctx, event)
		})
	})
}

func (q *historyQueries) insert(ctx context.Context, event models.HistoryEvent) error {
	data, err := encodeData(event.Data)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, insertHistoryEvent,
		event.ID,
		event.MatchInstanceID,
		string(event.EventType),
		data,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert history event %s: %w", event.ID, err)
	}
	return nil
}

func (q *historyQueries) list(ctx context.Context, query string, instanceID uuid.UUID, args ...any) ([]models.HistoryEvent, error) {
	rows, err := q.db.QueryContext(ctx, query, append([]any{instanceID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var events []models.HistoryEvent
	for rows.Next() {
		var (
			e    models.HistoryEvent
			kind string
			data pqtype.NullRawMessage
			ts   time.Time
		)
		if err := rows.Scan(&e.ID, &e.MatchInstanceID, &kind, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		e.EventType = models.EventKind(kind)
		e.Timestamp = ts.UTC()
		e.Data, err = models.DecodePayload(e.EventType, data.RawMessage)
		if err != nil {
			return nil, fmt.Errorf("decode history event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for %s: %w", instanceID, err)
	}
	return events, nil
}

// encodeData marshals a payload for the JSONB column. Payloads with no fields are stored as NULL.
func encodeData(p models.Payload) (pqtype.NullRawMessage, error) {
	if p == nil {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	if string(raw) == "{}" {
		return pqtype.NullRawMessage{}, nil
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}
