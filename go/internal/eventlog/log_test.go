package eventlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/models"
)

type countingRepo struct {
	*MemoryRepository
	lists atomic.Int32
}

func (r *countingRepo) ListByInstance(ctx context.Context, id uuid.UUID) ([]models.HistoryEvent, error) {
	r.lists.Add(1)
	return r.MemoryRepository.ListByInstance(ctx, id)
}

type failingRepo struct{ *MemoryRepository }

func (r *failingRepo) Insert(context.Context, models.HistoryEvent) error {
	return errors.New("disk full")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.HistoryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e models.HistoryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func newTestLog(opts ...Option) (*Log, *countingRepo, *clockwork.FakeClock) {
	repo := &countingRepo{MemoryRepository: NewMemoryRepository()}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return New(repo, clock, opts...), repo, clock
}

func TestAppendAssignsServerTimestamp(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newTestLog()
	inst := uuid.New()

	first, err := l.Append(ctx, inst, models.MatchStartedPayload{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	clock.Advance(30 * time.Second)
	second, err := l.Append(ctx, inst, models.MatchPausedPayload{Reason: "lunch"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if first.EventType != models.EventMatchStarted || second.EventType != models.EventMatchPaused {
		t.Fatalf("unexpected kinds %s, %s", first.EventType, second.EventType)
	}
	if got := second.Timestamp.Sub(first.Timestamp); got != 30*time.Second {
		t.Fatalf("timestamps %v apart, want 30s", got)
	}
	if first.MatchInstanceID != inst || first.ID == uuid.Nil {
		t.Fatalf("event ids not assigned: %+v", first)
	}

	history, err := l.GetHistory(ctx, inst)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 || history[0].ID != first.ID || history[1].ID != second.ID {
		t.Fatalf("history out of order: %+v", history)
	}
}

func TestAppendRejectsNilPayload(t *testing.T) {
	l, _, _ := newTestLog()
	if _, err := l.Append(context.Background(), uuid.New(), nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
}

func TestGetHistoryCachesAfterFirstRead(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newTestLog()
	inst := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := l.GetHistory(ctx, inst); err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
	}
	if _, err := l.Append(ctx, inst, models.MatchStartedPayload{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	history, _ := l.GetHistory(ctx, inst)
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if n := repo.lists.Load(); n != 1 {
		t.Fatalf("repository listed %d times, want 1", n)
	}

	l.Invalidate(inst)
	if _, err := l.GetHistory(ctx, inst); err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if n := repo.lists.Load(); n != 2 {
		t.Fatalf("repository listed %d times after invalidate, want 2", n)
	}
}

func TestSnapshotIsNotMutatedByLaterAppends(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog()
	inst := uuid.New()

	if _, err := l.Append(ctx, inst, models.MatchStartedPayload{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, _ := l.GetHistory(ctx, inst)
	if _, err := l.Append(ctx, inst, models.MatchPausedPayload{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("snapshot grew to %d events", len(before))
	}
	after, _ := l.GetHistory(ctx, inst)
	if len(after) != 2 {
		t.Fatalf("len(after) = %d, want 2", len(after))
	}
}

func TestAppendIf(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog()
	inst := uuid.New()

	_, appended, err := l.AppendIf(ctx, inst, func([]models.HistoryEvent) (models.Payload, error) {
		return nil, nil
	})
	if err != nil || appended {
		t.Fatalf("nil guard payload: appended=%v err=%v", appended, err)
	}

	errStale := errors.New("stale")
	_, appended, err = l.AppendIf(ctx, inst, func([]models.HistoryEvent) (models.Payload, error) {
		return nil, errStale
	})
	if !errors.Is(err, errStale) || appended {
		t.Fatalf("guard error: appended=%v err=%v", appended, err)
	}

	history, _ := l.GetHistory(ctx, inst)
	if len(history) != 0 {
		t.Fatalf("guarded appends wrote %d events", len(history))
	}
}

func TestAppendIfSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog()
	inst := uuid.New()
	cp := uuid.New()

	explodeOnce := func(history []models.HistoryEvent) (models.Payload, error) {
		for _, e := range history {
			if e.EventType == models.EventBombExploded {
				return nil, nil
			}
		}
		return models.BombExplodedPayload{ControlPointID: cp, Team: "red"}, nil
	}

	var (
		wg       sync.WaitGroup
		appended atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.AppendIf(ctx, inst, explodeOnce)
			if err != nil {
				t.Errorf("AppendIf: %v", err)
			}
			if ok {
				appended.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := appended.Load(); n != 1 {
		t.Fatalf("%d writers appended, want exactly 1", n)
	}
	history, _ := l.GetHistory(ctx, inst)
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
}

func TestAppendPropagatesStorageFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(&failingRepo{MemoryRepository: NewMemoryRepository()}, clock)
	inst := uuid.New()

	if _, err := l.Append(context.Background(), inst, models.MatchStartedPayload{}); err == nil {
		t.Fatal("expected storage error")
	}
	history, _ := l.GetHistory(context.Background(), inst)
	if len(history) != 0 {
		t.Fatalf("failed append left %d cached events", len(history))
	}
}

func TestPublisherReceivesAppends(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("nats down")}
	l, _, _ := newTestLog(WithPublisher(pub))
	inst := uuid.New()

	event, err := l.Append(ctx, inst, models.MatchStartedPayload{})
	if err != nil {
		t.Fatalf("publish failure must not fail the append: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].ID != event.ID {
		t.Fatalf("publisher saw %+v", pub.events)
	}
}

func TestNoteAppend(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newTestLog()
	inst := uuid.New()

	own, _ := l.Append(ctx, inst, models.MatchStartedPayload{})
	l.NoteAppend(inst, own.ID)
	if _, err := l.GetHistory(ctx, inst); err != nil {
		t.Fatal(err)
	}
	if n := repo.lists.Load(); n != 1 {
		t.Fatalf("own append caused a reload (%d lists)", n)
	}

	foreign := models.HistoryEvent{
		ID:              uuid.New(),
		MatchInstanceID: inst,
		EventType:       models.EventMatchPaused,
		Data:            models.MatchPausedPayload{},
		Timestamp:       time.Now().UTC(),
	}
	if err := repo.Insert(ctx, foreign); err != nil {
		t.Fatal(err)
	}
	l.NoteAppend(inst, foreign.ID)
	history, err := l.GetHistory(ctx, inst)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[1].ID != foreign.ID {
		t.Fatalf("foreign append not visible: %+v", history)
	}
}

// sharedRepo serializes appends from several Logs the way the Postgres advisory lock does.
type sharedRepo struct {
	*MemoryRepository
	lock   sync.Mutex
	missed atomic.Int32
}

func (r *sharedRepo) WithInstanceLock(ctx context.Context, instanceID uuid.UUID, known int, fn LockedFunc) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	all, err := r.ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	var missed []models.HistoryEvent
	if known < len(all) {
		missed = all[known:]
		r.missed.Add(int32(len(missed)))
	}
	return fn(missed, func(e models.HistoryEvent) error { return r.Insert(ctx, e) })
}

func TestAppendIfSeesAppendsFromOtherLogs(t *testing.T) {
	ctx := context.Background()
	repo := &sharedRepo{MemoryRepository: NewMemoryRepository()}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	a, b := New(repo, clock), New(repo, clock)
	inst, cp := uuid.New(), uuid.New()

	if _, err := a.Append(ctx, inst, models.MatchStartedPayload{}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Append(ctx, inst, models.BombArmedPayload{ControlPointID: cp, Team: "red", TotalBombTimeSeconds: 5}); err != nil {
		t.Fatal(err)
	}
	// Both logs hold the armed bomb in their caches before either explodes it.
	if h, _ := b.GetHistory(ctx, inst); len(h) != 2 {
		t.Fatalf("b history = %d events, want 2", len(h))
	}

	explodeOnce := func(history []models.HistoryEvent) (models.Payload, error) {
		for _, e := range history {
			if e.EventType == models.EventBombExploded {
				return nil, nil
			}
		}
		return models.BombExplodedPayload{ControlPointID: cp, Team: "red"}, nil
	}
	if _, appended, err := a.AppendIf(ctx, inst, explodeOnce); err != nil || !appended {
		t.Fatalf("a explode: appended=%v err=%v", appended, err)
	}
	if _, appended, err := b.AppendIf(ctx, inst, explodeOnce); err != nil || appended {
		t.Fatalf("b explode on stale cache: appended=%v err=%v", appended, err)
	}

	stored, _ := repo.ListByInstance(ctx, inst)
	if len(stored) != 3 {
		t.Fatalf("store holds %d events, want 3", len(stored))
	}
	if n := repo.missed.Load(); n != 1 {
		t.Fatalf("b caught up on %d events, want 1", n)
	}
	h, _ := b.GetHistory(ctx, inst)
	if len(h) != 3 || h[2].EventType != models.EventBombExploded {
		t.Fatalf("b cache not caught up: %+v", h)
	}
}

func TestParseNotification(t *testing.T) {
	inst, ev := uuid.New(), uuid.New()
	gotInst, gotEv, err := parseNotification(inst.String() + ":" + ev.String())
	if err != nil {
		t.Fatalf("parseNotification: %v", err)
	}
	if gotInst != inst || gotEv != ev {
		t.Fatalf("got %s:%s", gotInst, gotEv)
	}
	for _, bad := range []string{"", "nope", inst.String(), "x:" + ev.String(), inst.String() + ":y"} {
		if _, _, err := parseNotification(bad); err == nil {
			t.Errorf("parseNotification(%q) succeeded", bad)
		}
	}
}

func TestEncodeData(t *testing.T) {
	empty, err := encodeData(models.MatchResumedPayload{})
	if err != nil || empty.Valid {
		t.Fatalf("empty payload should be NULL: %+v %v", empty, err)
	}
	full, err := encodeData(models.BombArmedPayload{ControlPointID: uuid.New(), Team: "red", TotalBombTimeSeconds: 90})
	if err != nil || !full.Valid {
		t.Fatalf("bomb payload should be stored: %+v %v", full, err)
	}
	back, err := models.DecodePayload(models.EventBombArmed, full.RawMessage)
	if err != nil {
		t.Fatal(err)
	}
	if p := back.(models.BombArmedPayload); p.TotalBombTimeSeconds != 90 || p.Team != "red" {
		t.Fatalf("decoded %+v", p)
	}
}
