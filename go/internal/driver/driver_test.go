package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/eventlog"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
)

type fakeDirectory struct {
	mu        sync.Mutex
	matches   map[uuid.UUID]*models.Match
	failNext  int
	panicNext int
}

func (f *fakeDirectory) GetMatch(_ context.Context, id uuid.UUID) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNext > 0 {
		f.panicNext--
		panic("corrupt match row")
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("directory unavailable")
	}
	m, ok := f.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m, nil
}

func (f *fakeDirectory) ListByStatus(_ context.Context, status models.MatchStatus) ([]*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Match
	for _, m := range f.matches {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

type broadcast struct {
	channel models.Channel
	payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []broadcast
}

func (r *recorder) Broadcast(_ uuid.UUID, channel models.Channel, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, broadcast{channel: channel, payload: payload})
}

func (r *recorder) count(channel models.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.channel == channel {
			n++
		}
	}
	return n
}

func (r *recorder) last(channel models.Channel) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].channel == channel {
			return r.msgs[i].payload
		}
	}
	return nil
}

type countingMetrics struct {
	ticks  atomic.Int64
	errors atomic.Int64
}

func (m *countingMetrics) RecordTick(string)          { m.ticks.Add(1) }
func (m *countingMetrics) RecordLoopError(string)     { m.errors.Add(1) }
func (m *countingMetrics) SetActiveLoops(string, int) {}

// endingExpirer ends the match the way the game service does: conditional append, then teardown.
type endingExpirer struct {
	log    *eventlog.Log
	dir    *fakeDirectory
	driver *Driver
	calls  atomic.Int32
}

func (e *endingExpirer) ExpireMatch(ctx context.Context, matchID uuid.UUID) error {
	e.calls.Add(1)
	m, err := e.dir.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	_, _, err = e.log.AppendIf(ctx, m.InstanceID, func(h []models.HistoryEvent) (models.Payload, error) {
		if timeline.State(h) != timeline.StateRunning {
			return nil, nil
		}
		return models.MatchEndedPayload{Reason: models.EndReasonTimeExpired}, nil
	})
	e.driver.Teardown(matchID)
	return err
}

type harness struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	log      *eventlog.Log
	dir      *fakeDirectory
	rec      *recorder
	metrics  *countingMetrics
	registry *areacontrol.Registry
	driver   *Driver
	expirer  *endingExpirer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		dir:      &fakeDirectory{matches: make(map[uuid.UUID]*models.Match)},
		rec:      &recorder{},
		metrics:  &countingMetrics{},
		registry: areacontrol.NewRegistry(),
	}
	h.log = eventlog.New(eventlog.NewMemoryRepository(), h.clock)
	engine := areacontrol.NewEngine(areacontrol.DefaultPolicy(), h.registry, h.log)
	h.driver = New(DefaultConfig(), h.clock, h.dir, h.log, engine, h.rec, WithMetrics(h.metrics))
	h.expirer = &endingExpirer{log: h.log, dir: h.dir, driver: h.driver}
	h.driver.SetExpirer(h.expirer)
	t.Cleanup(h.driver.Shutdown)
	return h
}

func (h *harness) addMatch(m *models.Match) *models.Match {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.InstanceID == uuid.Nil {
		m.InstanceID = uuid.New()
	}
	m.Status = models.MatchStatusRunning
	h.dir.mu.Lock()
	h.dir.matches[m.ID] = m
	h.dir.mu.Unlock()
	return m
}

func (h *harness) appendEvent(m *models.Match, p models.Payload) {
	h.t.Helper()
	if _, err := h.log.Append(context.Background(), m.InstanceID, p); err != nil {
		h.t.Fatalf("append %s: %v", p.Kind(), err)
	}
}

// waitForLoops blocks until n tickers are registered on the fake clock.
func (h *harness) waitForLoops(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		h.t.Fatalf("waiting for %d loops: %v", n, err)
	}
}

// tick advances virtual time by one tick interval and waits until want loop ticks were processed.
func (h *harness) tick(want int64) {
	h.t.Helper()
	target := h.metrics.ticks.Load() + want
	h.clock.Advance(time.Second)
	waitFor(h.t, func() bool { return h.metrics.ticks.Load() >= target })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMatchLoopBroadcastCadence(t *testing.T) {
	h := newHarness(t)
	m := h.addMatch(&models.Match{ControlPoints: []models.ControlPoint{{ID: uuid.New()}}})
	h.appendEvent(m, models.MatchStartedPayload{})

	h.driver.StartMatch(m.ID)
	h.waitForLoops(1)

	h.tick(1)
	waitFor(t, func() bool { return h.rec.count(models.ChannelTimeUpdate) == 1 })
	if n := h.rec.count(models.ChannelControlPointTimeUpdate); n != 1 {
		t.Fatalf("control point updates after tick 1 = %d, want 1", n)
	}

	for i := 2; i < 20; i++ {
		h.tick(1)
	}
	if n := h.rec.count(models.ChannelTimeUpdate); n != 1 {
		t.Fatalf("time updates before tick 20 = %d, want 1", n)
	}
	h.tick(1)
	waitFor(t, func() bool { return h.rec.count(models.ChannelTimeUpdate) == 2 })

	gt := h.rec.last(models.ChannelTimeUpdate).(models.GameTime)
	if gt.PlayedTime != 20 || gt.RemainingTime != nil {
		t.Fatalf("time update = %+v, want 20s played without countdown", gt)
	}
}

func TestMatchLoopAutoEndsOnce(t *testing.T) {
	h := newHarness(t)
	total := 5
	m := h.addMatch(&models.Match{TotalTimeSeconds: &total})
	h.appendEvent(m, models.MatchStartedPayload{})

	h.driver.StartMatch(m.ID)
	h.waitForLoops(1)
	for i := 0; i < 5; i++ {
		h.tick(1)
	}
	waitFor(t, func() bool { return h.expirer.calls.Load() == 1 && !h.driver.MatchActive(m.ID) })

	h.clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := h.expirer.calls.Load(); n != 1 {
		t.Fatalf("expirer called %d times, want 1", n)
	}

	history, _ := h.log.GetHistory(context.Background(), m.InstanceID)
	ended := 0
	for _, e := range history {
		if e.EventType == models.EventMatchEnded {
			ended++
			if e.Data.(models.MatchEndedPayload).Reason != models.EndReasonTimeExpired {
				t.Fatalf("end reason = %q", e.Data.(models.MatchEndedPayload).Reason)
			}
		}
	}
	if ended != 1 {
		t.Fatalf("match_ended logged %d times, want 1", ended)
	}
	if h.registry.Watching(m.ID) {
		t.Fatal("positions still tracked after auto-end")
	}
}

func TestBombLoopExplodes(t *testing.T) {
	h := newHarness(t)
	cp := uuid.New()
	m := h.addMatch(&models.Match{ControlPoints: []models.ControlPoint{{ID: cp}}})
	h.appendEvent(m, models.MatchStartedPayload{})
	h.appendEvent(m, models.BombArmedPayload{ControlPointID: cp, Team: "red", TotalBombTimeSeconds: 3})

	h.driver.StartBomb(m.ID, cp)
	h.waitForLoops(1)
	for i := 0; i < 3; i++ {
		h.tick(1)
	}
	waitFor(t, func() bool { return !h.driver.BombActive(cp) })
	waitFor(t, func() bool {
		bt, ok := h.rec.last(models.ChannelBombTimeUpdate).(*models.BombTimeData)
		return ok && bt.Status == models.BombExploded
	})

	history, _ := h.log.GetHistory(context.Background(), m.InstanceID)
	last := history[len(history)-1]
	p, ok := last.Data.(models.BombExplodedPayload)
	if !ok || p.ControlPointID != cp || p.Team != "red" {
		t.Fatalf("last event = %+v, want bomb_exploded", last)
	}
	if _, armed := timeline.RemainingBombTime(cp, history, h.clock.Now()); armed {
		t.Fatal("bomb still armed after explosion")
	}
}

func TestBombLoopExitsWhenDisarmed(t *testing.T) {
	h := newHarness(t)
	cp := uuid.New()
	m := h.addMatch(&models.Match{ControlPoints: []models.ControlPoint{{ID: cp}}})
	h.appendEvent(m, models.MatchStartedPayload{})
	h.appendEvent(m, models.BombArmedPayload{ControlPointID: cp, Team: "red", TotalBombTimeSeconds: 60})

	h.driver.StartBomb(m.ID, cp)
	h.waitForLoops(1)
	h.tick(1)
	h.appendEvent(m, models.BombDisarmedPayload{ControlPointID: cp, Team: "blue"})
	h.tick(1)
	waitFor(t, func() bool { return !h.driver.BombActive(cp) })

	history, _ := h.log.GetHistory(context.Background(), m.InstanceID)
	for _, e := range history {
		if e.EventType == models.EventBombExploded {
			t.Fatal("disarmed bomb exploded")
		}
	}
}

func TestSuspendStopsLoopsSynchronously(t *testing.T) {
	h := newHarness(t)
	cp := uuid.New()
	m := h.addMatch(&models.Match{ControlPoints: []models.ControlPoint{{ID: cp}}})
	h.appendEvent(m, models.MatchStartedPayload{})
	h.appendEvent(m, models.BombArmedPayload{ControlPointID: cp, Team: "red", TotalBombTimeSeconds: 60})

	h.driver.StartMatch(m.ID)
	h.driver.StartBomb(m.ID, cp)
	h.waitForLoops(2)
	h.tick(2)

	h.driver.Suspend(m.ID)
	if h.driver.MatchActive(m.ID) || h.driver.BombActive(cp) {
		t.Fatal("loops still registered after Suspend")
	}
	before := h.metrics.ticks.Load()
	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if after := h.metrics.ticks.Load(); after != before {
		t.Fatalf("loops ticked %d times after Suspend", after-before)
	}
}

func TestStartMatchIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m := h.addMatch(&models.Match{})
	h.appendEvent(m, models.MatchStartedPayload{})

	h.driver.StartMatch(m.ID)
	h.driver.StartMatch(m.ID)
	h.waitForLoops(1)
	h.tick(1)
	time.Sleep(20 * time.Millisecond)
	if n := h.metrics.ticks.Load(); n != 1 {
		t.Fatalf("%d ticks for one interval, want 1 loop", n)
	}
}

func TestLoopSurvivesFailingTicks(t *testing.T) {
	h := newHarness(t)
	m := h.addMatch(&models.Match{})
	h.appendEvent(m, models.MatchStartedPayload{})
	h.dir.mu.Lock()
	h.dir.failNext = 1
	h.dir.panicNext = 1
	h.dir.mu.Unlock()

	h.driver.StartMatch(m.ID)
	h.waitForLoops(1)
	h.tick(1) // panics
	h.tick(1) // errors
	waitFor(t, func() bool { return h.metrics.errors.Load() == 2 })
	if !h.driver.MatchActive(m.ID) {
		t.Fatal("loop died after failing ticks")
	}

	for i := 3; i <= 20; i++ {
		h.tick(1)
	}
	waitFor(t, func() bool { return h.rec.count(models.ChannelTimeUpdate) == 1 })
}

func TestAreaTickRunsEveryTwentyTicks(t *testing.T) {
	h := newHarness(t)
	cp := models.ControlPoint{
		ID:                uuid.New(),
		Latitude:          52.52,
		Longitude:         13.405,
		PositionChallenge: &models.PositionChallenge{MinDistanceMeters: 25, MinAccuracyMeters: 10},
	}
	m := h.addMatch(&models.Match{
		Players:       []models.Player{{UserID: "u1", Team: "red"}},
		ControlPoints: []models.ControlPoint{cp},
	})
	h.appendEvent(m, models.MatchStartedPayload{})

	h.driver.StartMatch(m.ID)
	h.registry.Record(m.ID, "u1", areacontrol.Position{Latitude: 52.52, Longitude: 13.405, Accuracy: 5})
	h.waitForLoops(1)

	for i := 1; i <= 19; i++ {
		h.tick(1)
	}
	if n := h.rec.count(models.ChannelAreaControlUpdate); n != 0 {
		t.Fatalf("area updates before tick 20 = %d", n)
	}
	h.tick(1)
	waitFor(t, func() bool { return h.rec.count(models.ChannelAreaControlUpdate) == 1 })

	update := h.rec.last(models.ChannelAreaControlUpdate).(models.AreaControlUpdate)
	if update.ControlPointID != cp.ID || update.Points["red"] != 20 || update.CapturedBy != nil {
		t.Fatalf("area update = %+v", update)
	}
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	cp := uuid.New()
	running := h.addMatch(&models.Match{ControlPoints: []models.ControlPoint{{ID: cp}}})
	h.appendEvent(running, models.MatchStartedPayload{})
	h.appendEvent(running, models.BombArmedPayload{ControlPointID: cp, Team: "blue", TotalBombTimeSeconds: 90})

	stale := h.addMatch(&models.Match{})
	h.appendEvent(stale, models.MatchStartedPayload{})
	h.appendEvent(stale, models.MatchEndedPayload{})

	n, err := h.driver.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d matches, want 1", n)
	}
	if !h.driver.MatchActive(running.ID) || !h.driver.BombActive(cp) {
		t.Fatal("running match or its armed bomb not recovered")
	}
	if h.driver.MatchActive(stale.ID) {
		t.Fatal("match ended in history was recovered")
	}
	if !h.registry.Watching(running.ID) {
		t.Fatal("recovered match positions not tracked")
	}
}

func TestConfigAreaInterval(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.AreaInterval(); got != 20*time.Second {
		t.Fatalf("AreaInterval() = %v, want 20s", got)
	}
	cfg.TickInterval = 500 * time.Millisecond
	cfg.AreaEvery = 4
	if got := cfg.AreaInterval(); got != 2*time.Second {
		t.Fatalf("AreaInterval() = %v, want 2s", got)
	}
}
