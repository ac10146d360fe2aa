package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/capturezone/go/internal/dbconfig"
	"github.com/mcdev12/capturezone/go/internal/models"
)

// loadDump decodes a JSON array of history events and orders them by timestamp, keeping file order
// for equal timestamps.
func loadDump(r io.Reader) ([]models.HistoryEvent, error) {
	var events []models.HistoryEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode history dump: %w", err)
	}
	for i, e := range events {
		if e.ID == uuid.Nil || e.MatchInstanceID == uuid.Nil {
			return nil, fmt.Errorf("event %d: missing id or matchInstanceId", i)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// encodePayload stores an empty payload as NULL, matching what the service writes.
func encodePayload(p models.Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if string(data) == "{}" {
		return nil, nil
	}
	return data, nil
}

func main() {
	path := flag.String("file", "history.json", "JSON array of history events")
	flag.Parse()

	ctx := context.Background()

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *path, err)
		os.Exit(1)
	}
	events, err := loadDump(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	total, inserted, skipped, errs := len(events), 0, 0, 0
	for _, e := range events {
		data, err := encodePayload(e.Data)
		if err != nil {
			errs++
			continue
		}
		tag, err := pool.Exec(ctx, `
            INSERT INTO history_events (
              id, match_instance_id, event_type, data, created_at
            ) VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (id) DO NOTHING
        `, e.ID, e.MatchInstanceID, string(e.EventType), data, e.Timestamp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "insert %s: %v\n", e.ID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"History import: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}
