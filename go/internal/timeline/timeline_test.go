package timeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

var (
	epochStart = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cpA        = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	cpB        = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

// at returns the instant sec seconds after epochStart.
func at(sec int) time.Time {
	return epochStart.Add(time.Duration(sec) * time.Second)
}

func ev(sec int, p models.Payload) models.HistoryEvent {
	return models.HistoryEvent{
		ID:        uuid.New(),
		EventType: p.Kind(),
		Data:      p,
		Timestamp: at(sec),
	}
}

func captured(sec int, cp uuid.UUID, team string) models.HistoryEvent {
	return ev(sec, models.PointCapturedPayload{ControlPointID: cp, Team: team})
}

func TestElapsedMatchTime(t *testing.T) {
	tests := []struct {
		name    string
		history []models.HistoryEvent
		now     int
		running bool
		want    time.Duration
	}{
		{
			name:    "no events",
			now:     100,
			running: true,
			want:    0,
		},
		{
			name: "pause and resume",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(100, models.MatchPausedPayload{}),
				ev(150, models.MatchResumedPayload{}),
			},
			now:     200,
			running: true,
			want:    150 * time.Second,
		},
		{
			name: "caller reports not running",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
			},
			now:     200,
			running: false,
			want:    0,
		},
		{
			name: "ended match ignores now",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(30, models.MatchEndedPayload{}),
			},
			now:     500,
			running: true,
			want:    30 * time.Second,
		},
		{
			name: "duplicate pause is a no-op",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(10, models.MatchPausedPayload{}),
				ev(20, models.MatchPausedPayload{}),
				ev(30, models.MatchResumedPayload{}),
				ev(40, models.MatchResumedPayload{}),
			},
			now:     50,
			running: true,
			want:    30 * time.Second,
		},
		{
			name: "out of order timestamps floor at zero",
			history: []models.HistoryEvent{
				ev(100, models.MatchStartedPayload{}),
				ev(50, models.MatchPausedPayload{}),
			},
			now:     200,
			running: true,
			want:    0,
		},
		{
			name: "restart begins a new epoch",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(300, models.MatchEndedPayload{}),
				ev(400, models.MatchStartedPayload{Restart: true}),
			},
			now:     460,
			running: true,
			want:    60 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ElapsedMatchTime(tt.history, at(tt.now), tt.running)
			if got != tt.want {
				t.Fatalf("ElapsedMatchTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestElapsedMatchTimeIgnoresPausedDuration(t *testing.T) {
	for _, d2 := range []int{0, 1, 59, 3600} {
		d1, d3 := 42, 17
		history := []models.HistoryEvent{
			ev(0, models.MatchStartedPayload{}),
			ev(d1, models.MatchPausedPayload{}),
			ev(d1+d2, models.MatchResumedPayload{}),
		}
		got := ElapsedMatchTime(history, at(d1+d2+d3), true)
		if want := time.Duration(d1+d3) * time.Second; got != want {
			t.Fatalf("paused %ds: got %v, want %v", d2, got, want)
		}
	}
}

func TestHoldTimes(t *testing.T) {
	history := []models.HistoryEvent{
		ev(0, models.MatchStartedPayload{}),
		captured(0, cpA, "red"),
		captured(80, cpA, "blue"),
	}
	now := at(100)

	if got := AccumulatedHoldTime(cpA, history, "blue", now); got != 20*time.Second {
		t.Errorf("AccumulatedHoldTime(blue) = %v, want 20s", got)
	}
	if got := TeamHoldTime(cpA, "red", history, now); got != 80*time.Second {
		t.Errorf("TeamHoldTime(red) = %v, want 80s", got)
	}
	if got := TeamHoldTime(cpB, "red", history, now); got != 0 {
		t.Errorf("TeamHoldTime on untouched point = %v, want 0", got)
	}
	if got := AccumulatedHoldTime(cpA, history, "", now); got != 0 {
		t.Errorf("AccumulatedHoldTime unowned = %v, want 0", got)
	}
}

func TestHoldTimeAcrossPause(t *testing.T) {
	history := []models.HistoryEvent{
		ev(0, models.MatchStartedPayload{}),
		captured(10, cpA, "red"),
		ev(40, models.MatchPausedPayload{}),
		ev(100, models.MatchResumedPayload{}),
		captured(110, cpA, "red"), // same team: no duplicate interval
		ev(130, models.MatchPausedPayload{}),
	}
	if got := TeamHoldTime(cpA, "red", history, at(500)); got != 60*time.Second {
		t.Fatalf("TeamHoldTime = %v, want 60s", got)
	}
}

func TestHoldTimeCaptureWhilePaused(t *testing.T) {
	history := []models.HistoryEvent{
		ev(0, models.MatchStartedPayload{}),
		captured(10, cpA, "red"),
		ev(20, models.MatchPausedPayload{}),
		captured(30, cpA, "blue"),
		ev(50, models.MatchResumedPayload{}),
	}
	now := at(70)
	if got := TeamHoldTime(cpA, "red", history, now); got != 10*time.Second {
		t.Errorf("red = %v, want 10s", got)
	}
	if got := TeamHoldTime(cpA, "blue", history, now); got != 20*time.Second {
		t.Errorf("blue = %v, want 20s", got)
	}
}

func TestHoldTimeNeverNegative(t *testing.T) {
	history := []models.HistoryEvent{
		ev(100, models.MatchStartedPayload{}),
		captured(90, cpA, "red"),
		captured(50, cpA, "blue"),
		captured(50, cpA, "blue"),
		captured(20, cpA, "red"),
	}
	for _, team := range []string{"red", "blue"} {
		if got := TeamHoldTime(cpA, team, history, at(10)); got < 0 {
			t.Fatalf("TeamHoldTime(%s) = %v, want >= 0", team, got)
		}
	}
}

func TestCurrentOwner(t *testing.T) {
	history := []models.HistoryEvent{
		ev(0, models.MatchStartedPayload{}),
		captured(5, cpA, "red"),
		captured(6, cpB, "blue"),
		captured(7, cpA, "green"),
	}
	if got := CurrentOwner(cpA, history); got != "green" {
		t.Errorf("owner of A = %q, want green", got)
	}
	if got := CurrentOwner(cpB, history); got != "blue" {
		t.Errorf("owner of B = %q, want blue", got)
	}

	restarted := append(history,
		ev(100, models.MatchEndedPayload{}),
		ev(200, models.MatchStartedPayload{Restart: true}),
	)
	if got := CurrentOwner(cpA, restarted); got != "" {
		t.Errorf("owner after restart = %q, want unowned", got)
	}
}

func TestRemainingBombTime(t *testing.T) {
	armed := models.BombArmedPayload{ControlPointID: cpA, Team: "red", TotalBombTimeSeconds: 180}

	tests := []struct {
		name     string
		history  []models.HistoryEvent
		now      int
		want     time.Duration
		wantOK   bool
		counting bool
	}{
		{
			name: "paused and resumed",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(0, armed),
				ev(60, models.MatchPausedPayload{}),
				ev(90, models.MatchResumedPayload{}),
			},
			now:      100,
			want:     110 * time.Second,
			wantOK:   true,
			counting: true,
		},
		{
			name: "frozen while paused",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(0, armed),
				ev(60, models.MatchPausedPayload{}),
			},
			now:    1000,
			want:   120 * time.Second,
			wantOK: true,
		},
		{
			name: "floors at zero",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(10, armed),
			},
			now:      1000,
			want:     0,
			wantOK:   true,
			counting: true,
		},
		{
			name: "disarmed bomb is inert",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(10, armed),
				ev(20, models.BombDisarmedPayload{ControlPointID: cpA, Team: "blue"}),
			},
			now: 30,
		},
		{
			name: "exploded bomb is inert",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(10, armed),
				ev(190, models.BombExplodedPayload{ControlPointID: cpA}),
			},
			now: 200,
		},
		{
			name: "other control point",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(10, models.BombArmedPayload{ControlPointID: cpB, TotalBombTimeSeconds: 60}),
			},
			now: 20,
		},
		{
			name: "armed before start waits for start",
			history: []models.HistoryEvent{
				ev(0, armed),
				ev(50, models.MatchStartedPayload{}),
			},
			now:      60,
			want:     170 * time.Second,
			wantOK:   true,
			counting: true,
		},
		{
			name: "rearm resets the countdown",
			history: []models.HistoryEvent{
				ev(0, models.MatchStartedPayload{}),
				ev(0, armed),
				ev(100, models.BombDisarmedPayload{ControlPointID: cpA}),
				ev(120, armed),
			},
			now:      130,
			want:     170 * time.Second,
			wantOK:   true,
			counting: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RemainingBombTime(cpA, tt.history, at(tt.now))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Remaining != tt.want {
				t.Errorf("Remaining = %v, want %v", got.Remaining, tt.want)
			}
			if got.Remaining < 0 {
				t.Errorf("Remaining negative: %v", got.Remaining)
			}
			if got.Counting != tt.counting {
				t.Errorf("Counting = %v, want %v", got.Counting, tt.counting)
			}
			if got.Total != 180*time.Second {
				t.Errorf("Total = %v, want 3m0s", got.Total)
			}
		})
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	history := []models.HistoryEvent{
		ev(0, models.MatchStartedPayload{}),
		captured(3, cpA, "red"),
		ev(5, models.BombArmedPayload{ControlPointID: cpB, Team: "red", TotalBombTimeSeconds: 90}),
		ev(40, models.MatchPausedPayload{}),
		ev(70, models.MatchResumedPayload{}),
		captured(75, cpA, "blue"),
	}
	now := at(99)
	first := ElapsedMatchTime(history, now, true)
	firstHold := AccumulatedHoldTime(cpA, history, "blue", now)
	firstBomb, _ := RemainingBombTime(cpB, history, now)
	for i := 0; i < 5; i++ {
		if got := ElapsedMatchTime(history, now, true); got != first {
			t.Fatalf("ElapsedMatchTime changed between calls: %v != %v", got, first)
		}
		if got := AccumulatedHoldTime(cpA, history, "blue", now); got != firstHold {
			t.Fatalf("AccumulatedHoldTime changed between calls: %v != %v", got, firstHold)
		}
		if got, _ := RemainingBombTime(cpB, history, now); got != firstBomb {
			t.Fatalf("RemainingBombTime changed between calls: %+v != %+v", got, firstBomb)
		}
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		name    string
		history []models.HistoryEvent
		want    RunState
	}{
		{"empty", nil, StateStopped},
		{"started", []models.HistoryEvent{ev(0, models.MatchStartedPayload{})}, StateRunning},
		{"paused", []models.HistoryEvent{ev(0, models.MatchStartedPayload{}), ev(1, models.MatchPausedPayload{})}, StatePaused},
		{"ended", []models.HistoryEvent{ev(0, models.MatchStartedPayload{}), ev(1, models.MatchEndedPayload{})}, StateEnded},
		{"captures do not change state", []models.HistoryEvent{ev(0, models.MatchStartedPayload{}), ev(1, models.MatchPausedPayload{}), captured(2, cpA, "red")}, StatePaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := State(tt.history); got != tt.want {
				t.Fatalf("State = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFormatTime(t *testing.T) {
	tests := map[int]string{
		0:    "00:00",
		5:    "00:05",
		65:   "01:05",
		3599: "59:59",
		6000: "100:00",
		-3:   "00:00",
	}
	for in, want := range tests {
		if got := FormatTime(in); got != want {
			t.Errorf("FormatTime(%d) = %q, want %q", in, got, want)
		}
	}
}
