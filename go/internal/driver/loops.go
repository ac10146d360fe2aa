package driver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/mcdev12/capturezone/go/internal/timeline"
	"github.com/rs/zerolog/log"
)

type tickResult int

const (
	// tickContinue keeps the loop running.
	tickContinue tickResult = iota
	// tickExit ends the loop with nothing left to do.
	tickExit
	// tickFire ends the loop and runs its side effect: auto-end for a match, explosion for a bomb.
	tickFire
)

type tickFunc func(ctx context.Context, l *loop, n int) (tickResult, error)

// run drives one loop. A loop that ends on its own detaches before firing; if it was stopped in
// the meantime the side effect is dropped. Side effects re-validate state under the instance's
// write lock, so one racing a pause or an end appends nothing.
func (d *Driver) run(l *loop, tick tickFunc, fire func(l *loop)) {
	result := d.tickUntilDone(l, tick)
	if result == tickContinue {
		return
	}
	if d.detach(l) && result == tickFire {
		fire(l)
	}
}

// tickUntilDone ticks until the loop is stopped or a tick ends it. done is closed on return.
func (d *Driver) tickUntilDone(l *loop, tick tickFunc) tickResult {
	defer close(l.done)

	ticker := d.clock.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-l.stopCh:
			return tickContinue
		case <-d.ctx.Done():
			return tickContinue
		case <-ticker.Chan():
		}
		if !l.alive.Load() {
			return tickContinue
		}

		d.metrics.RecordTick(l.kind)
		result, err := d.safeTick(l, n, tick)
		if err != nil {
			d.metrics.RecordLoopError(l.kind)
			log.Error().
				Err(err).
				Str("loop", l.kind).
				Str("match_id", l.matchID.String()).
				Str("control_point_id", l.controlPointID.String()).
				Int("tick", n).
				Msg("loop tick failed, retrying next tick")
			continue
		}
		if result != tickContinue {
			return result
		}
	}
}

// safeTick runs one tick and turns a panic into an error so a malformed history cannot kill the loop.
func (d *Driver) safeTick(l *loop, n int, tick tickFunc) (result tickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = tickContinue, fmt.Errorf("panic in %s loop: %v", l.kind, r)
		}
	}()
	return tick(d.ctx, l, n)
}

func (d *Driver) runMatch(l *loop) {
	d.run(l, d.matchTick, d.expire)
}

func (d *Driver) runBomb(l *loop) {
	d.run(l, d.bombTick, d.explode)
}

func (d *Driver) broadcastDue(n int) bool {
	return n == 1 || n%d.cfg.BroadcastEvery == 0
}

func (d *Driver) matchTick(ctx context.Context, l *loop, n int) (tickResult, error) {
	match, err := d.directory.GetMatch(ctx, l.matchID)
	if err != nil {
		return tickContinue, fmt.Errorf("get match: %w", err)
	}
	history, err := d.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return tickContinue, fmt.Errorf("get history: %w", err)
	}
	if timeline.State(history) != timeline.StateRunning {
		return tickContinue, nil
	}

	now := d.clock.Now()
	if timeline.Expired(match, history, now) {
		return tickFire, nil
	}

	if d.broadcastDue(n) {
		d.broadcaster.Broadcast(match.ID, models.ChannelTimeUpdate, timeline.GameTimeOf(match, history, now))
		for _, cpt := range timeline.ControlPointTimesOf(match, history, now) {
			d.broadcaster.Broadcast(match.ID, models.ChannelControlPointTimeUpdate, cpt)
		}
	}

	if d.area != nil && n%d.cfg.AreaEvery == 0 {
		outcomes, err := d.area.Tick(ctx, match, now)
		for _, o := range outcomes {
			d.broadcastArea(ctx, match, o)
		}
		if err != nil {
			return tickContinue, fmt.Errorf("area control tick: %w", err)
		}
	}
	return tickContinue, nil
}

func (d *Driver) broadcastArea(ctx context.Context, match *models.Match, o areacontrol.Outcome) {
	update := models.AreaControlUpdate{ControlPointID: o.ControlPointID, Points: o.Display}
	if o.Capture != nil {
		team := o.Capture.Data.(models.PointCapturedPayload).Team
		update.CapturedBy = &team
	}
	d.broadcaster.Broadcast(match.ID, models.ChannelAreaControlUpdate, update)

	if o.Capture == nil {
		return
	}
	cp, ok := match.ControlPoint(o.ControlPointID)
	if !ok {
		return
	}
	history, err := d.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		log.Error().Err(err).Str("match_id", match.ID.String()).Msg("failed to read history after capture")
		return
	}
	d.broadcaster.Broadcast(match.ID, models.ChannelControlPointTimeUpdate, timeline.ControlPointTimeOf(cp, history, d.clock.Now()))
}

func (d *Driver) bombTick(ctx context.Context, l *loop, n int) (tickResult, error) {
	match, cp, err := d.controlPoint(ctx, l.matchID, l.controlPointID)
	if err != nil {
		return tickContinue, err
	}
	history, err := d.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return tickContinue, fmt.Errorf("get history: %w", err)
	}

	now := d.clock.Now()
	bt, armed := timeline.RemainingBombTime(cp.ID, history, now)
	if !armed {
		return tickExit, nil
	}
	if !bt.Counting {
		return tickContinue, nil
	}
	if bt.Remaining <= 0 {
		return tickFire, nil
	}
	if d.broadcastDue(n) {
		d.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, timeline.BombTimeOf(cp, history, now))
	}
	return tickContinue, nil
}

func (d *Driver) controlPoint(ctx context.Context, matchID, controlPointID uuid.UUID) (*models.Match, *models.ControlPoint, error) {
	match, err := d.directory.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get match: %w", err)
	}
	cp, ok := match.ControlPoint(controlPointID)
	if !ok {
		return nil, nil, fmt.Errorf("control point %s: %w", controlPointID, models.ErrNotFound)
	}
	return match, cp, nil
}

// expire hands a match whose countdown ran out to the Expirer.
func (d *Driver) expire(l *loop) {
	log.Info().Str("match_id", l.matchID.String()).Msg("match time expired")
	if d.expirer == nil {
		log.Warn().Str("match_id", l.matchID.String()).Msg("no expirer configured, match left running")
		return
	}
	if err := d.expirer.ExpireMatch(d.ctx, l.matchID); err != nil {
		log.Error().Err(err).Str("match_id", l.matchID.String()).Msg("failed to end expired match")
	}
}

// explode logs bomb_exploded if the bomb is still armed, the match still runs and the countdown is
// still at zero on the freshest history.
func (d *Driver) explode(l *loop) {
	match, cp, err := d.controlPoint(d.ctx, l.matchID, l.controlPointID)
	if err != nil {
		log.Error().Err(err).Str("match_id", l.matchID.String()).Msg("failed to explode bomb")
		return
	}

	var bomb timeline.BombTime
	event, appended, err := d.history.AppendIf(d.ctx, match.InstanceID, func(history []models.HistoryEvent) (models.Payload, error) {
		if timeline.State(history) != timeline.StateRunning {
			return nil, nil
		}
		bt, armed := timeline.RemainingBombTime(cp.ID, history, d.clock.Now())
		if !armed || bt.Remaining > 0 {
			return nil, nil
		}
		bomb = bt
		return models.BombExplodedPayload{ControlPointID: cp.ID, Team: bt.ArmedByTeam}, nil
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("match_id", match.ID.String()).
			Str("control_point_id", cp.ID.String()).
			Msg("failed to append bomb explosion")
		return
	}
	if !appended {
		return
	}

	log.Info().
		Str("match_id", match.ID.String()).
		Str("control_point_id", cp.ID.String()).
		Str("event_id", event.ID.String()).
		Str("armed_by", bomb.ArmedByTeam).
		Msg("bomb exploded")
	d.broadcaster.Broadcast(match.ID, models.ChannelBombTimeUpdate, &models.BombTimeData{
		ControlPointID: cp.ID,
		Status:         models.BombExploded,
		TotalTime:      timeline.Seconds(bomb.Total),
		ArmedByTeam:    bomb.ArmedByTeam,
		DisplayTime:    timeline.FormatTime(0),
	})
}

// Activate starts the loops a running match needs: the match loop and one loop per armed bomb.
// It does nothing for a match whose history is not running.
func (d *Driver) Activate(ctx context.Context, match *models.Match) error {
	history, err := d.history.GetHistory(ctx, match.InstanceID)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if timeline.State(history) != timeline.StateRunning {
		return nil
	}
	d.StartMatch(match.ID)

	now := d.clock.Now()
	for _, cp := range match.ControlPoints {
		if _, armed := timeline.RemainingBombTime(cp.ID, history, now); armed {
			d.StartBomb(match.ID, cp.ID)
		}
	}
	return nil
}

// Recover restarts the loops of every match the directory reports as running. Nothing about the
// loops is persisted; everything is derived from the history.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	matches, err := d.directory.ListByStatus(ctx, models.MatchStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running matches: %w", err)
	}

	recovered := 0
	for _, m := range matches {
		if err := d.Activate(ctx, m); err != nil {
			log.Error().Err(err).Str("match_id", m.ID.String()).Msg("failed to recover match")
			continue
		}
		if d.MatchActive(m.ID) {
			recovered++
		}
	}
	log.Info().Int("matches", recovered).Msg("recovered match loops")
	return recovered, nil
}
