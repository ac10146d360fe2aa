// Package driver runs the live loops behind a match: one per running match and one per armed bomb.
// Loops hold no state of their own. Every tick re-reads the match history, so a process restart
// only needs Recover to pick the loops up again.
package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Directory looks up matches.
type Directory interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	ListByStatus(ctx context.Context, status models.MatchStatus) ([]*models.Match, error)
}

// History is the part of the event log the loops read and append to.
type History interface {
	GetHistory(ctx context.Context, instanceID uuid.UUID) ([]models.HistoryEvent, error)
	AppendIf(ctx context.Context, instanceID uuid.UUID, guard func([]models.HistoryEvent) (models.Payload, error)) (models.HistoryEvent, bool, error)
}

// Broadcaster pushes a payload to every client of a match. It must not block.
type Broadcaster interface {
	Broadcast(matchID uuid.UUID, channel models.Channel, payload any)
}

// Expirer ends a match whose countdown ran out.
type Expirer interface {
	ExpireMatch(ctx context.Context, matchID uuid.UUID) error
}

// MetricsCollector records loop activity. Loop is "match" or "bomb".
type MetricsCollector interface {
	RecordTick(loop string)
	RecordLoopError(loop string)
	SetActiveLoops(loop string, n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordTick(string)          {}
func (noopMetrics) RecordLoopError(string)     {}
func (noopMetrics) SetActiveLoops(string, int) {}

const (
	loopMatch = "match"
	loopBomb  = "bomb"
)

// Config holds the loop cadence.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	// BroadcastEvery is the number of ticks between snapshot broadcasts. Tick 1 always broadcasts.
	BroadcastEvery int `yaml:"broadcast_every_ticks"`
	// AreaEvery is the number of ticks between area-control scoring passes.
	AreaEvery int `yaml:"area_every_ticks"`
}

// AreaInterval is the time between two area-control scoring passes.
func (c Config) AreaInterval() time.Duration {
	return c.TickInterval * time.Duration(c.AreaEvery)
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   time.Second,
		BroadcastEvery: 20,
		AreaEvery:      20,
	}
}

type Driver struct {
	cfg         Config
	clock       Clock
	directory   Directory
	history     History
	area        *areacontrol.Engine
	broadcaster Broadcaster
	expirer     Expirer
	metrics     MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	matches map[uuid.UUID]*loop
	bombs   map[uuid.UUID]*loop // keyed by control point
}

type loop struct {
	kind           string
	matchID        uuid.UUID
	controlPointID uuid.UUID

	alive    atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newLoop(kind string, matchID, controlPointID uuid.UUID) *loop {
	l := &loop{
		kind:           kind,
		matchID:        matchID,
		controlPointID: controlPointID,
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	l.alive.Store(true)
	return l
}

// stop signals the loop and waits until it has stopped ticking. Safe to call more than once.
func (l *loop) stop() {
	l.alive.Store(false)
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}

// Option configures a Driver.
type Option func(*Driver)

func WithMetrics(m MetricsCollector) Option {
	return func(d *Driver) { d.metrics = m }
}

func New(cfg Config, clock Clock, directory Directory, history History, area *areacontrol.Engine, broadcaster Broadcaster, opts ...Option) *Driver {
	if cfg.BroadcastEvery <= 0 {
		cfg.BroadcastEvery = DefaultConfig().BroadcastEvery
	}
	if cfg.AreaEvery <= 0 {
		cfg.AreaEvery = DefaultConfig().AreaEvery
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		cfg:         cfg,
		clock:       clock,
		directory:   directory,
		history:     history,
		area:        area,
		broadcaster: broadcaster,
		metrics:     noopMetrics{},
		ctx:         ctx,
		cancel:      cancel,
		matches:     make(map[uuid.UUID]*loop),
		bombs:       make(map[uuid.UUID]*loop),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetExpirer wires the component that ends expired matches. It must be called before any loop starts.
func (d *Driver) SetExpirer(e Expirer) { d.expirer = e }

// StartMatch starts the match loop and begins tracking player positions. It is a no-op if the
// loop is already running.
func (d *Driver) StartMatch(matchID uuid.UUID) {
	if d.area != nil {
		d.area.Positions().Watch(matchID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.matches[matchID]; ok {
		return
	}
	l := newLoop(loopMatch, matchID, uuid.Nil)
	d.matches[matchID] = l
	d.metrics.SetActiveLoops(loopMatch, len(d.matches))
	go d.runMatch(l)

	log.Info().Str("match_id", matchID.String()).Msg("match loop started")
}

// StartBomb starts the countdown loop of an armed bomb. It is a no-op if one is running.
func (d *Driver) StartBomb(matchID, controlPointID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bombs[controlPointID]; ok {
		return
	}
	l := newLoop(loopBomb, matchID, controlPointID)
	d.bombs[controlPointID] = l
	d.metrics.SetActiveLoops(loopBomb, len(d.bombs))
	go d.runBomb(l)

	log.Info().
		Str("match_id", matchID.String()).
		Str("control_point_id", controlPointID.String()).
		Msg("bomb loop started")
}

// StopBomb stops a bomb loop and waits for it to exit.
func (d *Driver) StopBomb(controlPointID uuid.UUID) {
	d.mu.Lock()
	l, ok := d.bombs[controlPointID]
	if ok {
		delete(d.bombs, controlPointID)
		d.metrics.SetActiveLoops(loopBomb, len(d.bombs))
	}
	d.mu.Unlock()
	if ok {
		l.stop()
	}
}

// Suspend stops the match loop and every bomb loop of the match and waits for them to stop ticking.
func (d *Driver) Suspend(matchID uuid.UUID) {
	d.mu.Lock()
	var stopping []*loop
	if l, ok := d.matches[matchID]; ok {
		delete(d.matches, matchID)
		stopping = append(stopping, l)
	}
	for cpID, l := range d.bombs {
		if l.matchID == matchID {
			delete(d.bombs, cpID)
			stopping = append(stopping, l)
		}
	}
	d.metrics.SetActiveLoops(loopMatch, len(d.matches))
	d.metrics.SetActiveLoops(loopBomb, len(d.bombs))
	d.mu.Unlock()

	for _, l := range stopping {
		l.stop()
	}
	if len(stopping) > 0 {
		log.Info().Str("match_id", matchID.String()).Int("loops", len(stopping)).Msg("match loops stopped")
	}
}

// Teardown suspends the match and stops tracking its player positions.
func (d *Driver) Teardown(matchID uuid.UUID) {
	d.Suspend(matchID)
	if d.area != nil {
		d.area.Positions().Unwatch(matchID)
	}
}

// MatchActive reports whether the match loop is running.
func (d *Driver) MatchActive(matchID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.matches[matchID]
	return ok
}

// BombActive reports whether a bomb loop is running for the control point.
func (d *Driver) BombActive(controlPointID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bombs[controlPointID]
	return ok
}

// Shutdown stops every loop and waits for them to exit.
func (d *Driver) Shutdown() {
	d.cancel()

	d.mu.Lock()
	var stopping []*loop
	for id, l := range d.matches {
		delete(d.matches, id)
		stopping = append(stopping, l)
	}
	for id, l := range d.bombs {
		delete(d.bombs, id)
		stopping = append(stopping, l)
	}
	d.mu.Unlock()

	for _, l := range stopping {
		l.stop()
	}
	log.Info().Int("loops", len(stopping)).Msg("driver shut down")
}

// detach removes a loop that is ending on its own. It reports false when the loop had already
// been stopped and removed by someone else.
func (d *Driver) detach(l *loop) bool {
	l.alive.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	switch l.kind {
	case loopMatch:
		if d.matches[l.matchID] != l {
			return false
		}
		delete(d.matches, l.matchID)
		d.metrics.SetActiveLoops(loopMatch, len(d.matches))
	case loopBomb:
		if d.bombs[l.controlPointID] != l {
			return false
		}
		delete(d.bombs, l.controlPointID)
		d.metrics.SetActiveLoops(loopBomb, len(d.bombs))
	}
	return true
}
