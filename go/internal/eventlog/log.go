// Package eventlog is the append-only, per-match-instance history store with an in-process cache.
package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Guard inspects the freshest history of an instance while its write lock is held and returns the
// payload to append, or nil to skip the append.
type Guard = func(history []models.HistoryEvent) (models.Payload, error)

// Publisher receives every event after it has been persisted.
type Publisher interface {
	Publish(ctx context.Context, event models.HistoryEvent) error
}

// MetricsCollector records appends by kind.
type MetricsCollector interface {
	RecordAppend(kind models.EventKind)
}

type noopMetrics struct{}

func (noopMetrics) RecordAppend(models.EventKind) {}

// Option configures a Log.
type Option func(*Log)

// WithPublisher forwards appended events to p. Publish errors are logged and do not fail the append.
func WithPublisher(p Publisher) Option {
	return func(l *Log) { l.publisher = p }
}

// WithMetrics records appends on m.
func WithMetrics(m MetricsCollector) Option {
	return func(l *Log) { l.metrics = m }
}

// Log caches the history of each match instance after the first read and grows the cached slice
// in place on append. Appends are serialized per instance; readers get an immutable snapshot and
// never wait on a slow append.
type Log struct {
	repo      Repository
	clock     clockwork.Clock
	publisher Publisher
	metrics   MetricsCollector

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	// writeMu serializes loads and appends for the instance.
	writeMu sync.Mutex

	snapMu sync.RWMutex
	loaded bool
	events []models.HistoryEvent
}

func New(repo Repository, clock clockwork.Clock, opts ...Option) *Log {
	l := &Log{
		repo:    repo,
		clock:   clock,
		metrics: noopMetrics{},
		entries: make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) entry(instanceID uuid.UUID) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[instanceID]
	if !ok {
		e = &entry{}
		l.entries[instanceID] = e
	}
	return e
}

// GetHistory returns the time-ordered history of an instance. The returned slice is a snapshot and
// must not be modified.
func (l *Log) GetHistory(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error) {
	e := l.entry(instanceID)
	if events, ok := e.snapshot(); ok {
		return events, nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := l.load(ctx, instanceID, e); err != nil {
		return nil, err
	}
	events, _ := e.snapshot()
	return events, nil
}

// Append logs payload for the instance with the current server time.
func (l *Log) Append(ctx context.Context, instanceID uuid.UUID, payload models.Payload) (models.HistoryEvent, error) {
	if payload == nil {
		return models.HistoryEvent{}, fmt.Errorf("append to %s: nil payload", instanceID)
	}
	event, _, err := l.AppendIf(ctx, instanceID, func([]models.HistoryEvent) (models.Payload, error) {
		return payload, nil
	})
	return event, err
}

// AppendIf runs guard against the freshest history under the instance's write lock and appends
// what it returns. appended is false when the guard returned a nil payload; a guard error aborts
// the append and is returned unchanged.
func (l *Log) AppendIf(ctx context.Context, instanceID uuid.UUID, guard Guard) (event models.HistoryEvent, appended bool, err error) {
	e := l.entry(instanceID)

	e.writeMu.Lock()
	event, appended, err = l.appendLocked(ctx, instanceID, e, guard)
	e.writeMu.Unlock()

	if err != nil || !appended {
		return event, appended, err
	}

	l.metrics.RecordAppend(event.EventType)
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", string(event.EventType)).
				Msg("failed to publish history event")
		}
	}
	return event, true, nil
}

func (l *Log) appendLocked(ctx context.Context, instanceID uuid.UUID, e *entry, guard Guard) (models.HistoryEvent, bool, error) {
	if err := l.load(ctx, instanceID, e); err != nil {
		return models.HistoryEvent{}, false, err
	}
	if locker, ok := l.repo.(InstanceLocker); ok {
		return l.appendShared(ctx, instanceID, e, guard, locker)
	}

	current, _ := e.snapshot()
	event, ok, err := l.decide(instanceID, current, guard)
	if err != nil || !ok {
		return models.HistoryEvent{}, false, err
	}
	if err := l.repo.Insert(ctx, event); err != nil {
		return models.HistoryEvent{}, false, fmt.Errorf("append %s to %s: %w", event.EventType, instanceID, err)
	}
	e.extend(event)
	return event, true, nil
}

// appendShared runs guard under the repository's instance lock. Events other processes persisted
// since the cache was filled are added to the cache before the guard sees it.
func (l *Log) appendShared(ctx context.Context, instanceID uuid.UUID, e *entry, guard Guard, locker InstanceLocker) (models.HistoryEvent, bool, error) {
	current, _ := e.snapshot()

	var (
		event    models.HistoryEvent
		appended bool
	)
	err := locker.WithInstanceLock(ctx, instanceID, len(current), func(missed []models.HistoryEvent, insert func(models.HistoryEvent) error) error {
		if len(missed) > 0 {
			log.Debug().
				Str("match_instance_id", instanceID.String()).
				Int("missed", len(missed)).
				Msg("history behind the store, catching up before append")
			e.extend(missed...)
			current, _ = e.snapshot()
		}

		next, ok, err := l.decide(instanceID, current, guard)
		if err != nil || !ok {
			return err
		}
		if err := insert(next); err != nil {
			return fmt.Errorf("append %s to %s: %w", next.EventType, instanceID, err)
		}
		event, appended = next, true
		return nil
	})
	if err != nil || !appended {
		return models.HistoryEvent{}, false, err
	}
	e.extend(event)
	return event, true, nil
}

// decide runs guard against current and stamps the event it asks for.
func (l *Log) decide(instanceID uuid.UUID, current []models.HistoryEvent, guard Guard) (models.HistoryEvent, bool, error) {
	payload, err := guard(current)
	if err != nil || payload == nil {
		return models.HistoryEvent{}, false, err
	}

	event := models.HistoryEvent{
		ID:              uuid.New(),
		MatchInstanceID: instanceID,
		EventType:       payload.Kind(),
		Data:            payload,
		Timestamp:       l.clock.Now().UTC(),
	}
	if n := len(current); n > 0 && event.Timestamp.Before(current[n-1].Timestamp) {
		log.Warn().
			Str("match_instance_id", instanceID.String()).
			Time("previous", current[n-1].Timestamp).
			Time("timestamp", event.Timestamp).
			Msg("history timestamp went backwards")
	}
	return event, true, nil
}

// load fills the cache entry from the repository if it is not loaded. Callers hold e.writeMu.
func (l *Log) load(ctx context.Context, instanceID uuid.UUID, e *entry) error {
	if _, ok := e.snapshot(); ok {
		return nil
	}
	events, err := l.repo.ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", instanceID, err)
	}
	e.snapMu.Lock()
	e.events = events
	e.loaded = true
	e.snapMu.Unlock()
	return nil
}

func (e *entry) extend(events ...models.HistoryEvent) {
	e.snapMu.Lock()
	e.events = append(e.events, events...)
	e.snapMu.Unlock()
}

// snapshot returns a capacity-clipped view so that appends never write into a slice a reader holds.
func (e *entry) snapshot() ([]models.HistoryEvent, bool) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	if !e.loaded {
		return nil, false
	}
	n := len(e.events)
	return e.events[:n:n], true
}

// Invalidate drops the cached history of an instance. The next read reloads it from the repository.
// The entry itself stays registered so that appends keep sharing one write lock.
func (l *Log) Invalidate(instanceID uuid.UUID) {
	l.mu.Lock()
	e, ok := l.entries[instanceID]
	l.mu.Unlock()
	if !ok {
		return
	}
	e.writeMu.Lock()
	e.snapMu.Lock()
	e.loaded = false
	e.events = nil
	e.snapMu.Unlock()
	e.writeMu.Unlock()
}

// InvalidateAll drops every cached history.
func (l *Log) InvalidateAll() {
	l.mu.Lock()
	ids := make([]uuid.UUID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	for _, id := range ids {
		l.Invalidate(id)
	}
}

// NoteAppend is called when an event was persisted for instanceID, possibly by another process. The
// cached history is dropped unless it already holds eventID.
func (l *Log) NoteAppend(instanceID, eventID uuid.UUID) {
	l.mu.Lock()
	e, ok := l.entries[instanceID]
	l.mu.Unlock()
	if !ok {
		return
	}

	e.writeMu.Lock()
	events, loaded := e.snapshot()
	e.writeMu.Unlock()
	if !loaded {
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ID == eventID {
			return
		}
	}
	log.Debug().
		Str("match_instance_id", instanceID.String()).
		Str("event_id", eventID.String()).
		Msg("history changed elsewhere, invalidating cache")
	l.Invalidate(instanceID)
}
