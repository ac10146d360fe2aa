package gateway

import (
	"github.com/google/uuid"
	"github.com/mcdev12/capturezone/go/internal/models"
)

// Broadcaster pushes a payload to every client of a match.
type Broadcaster interface {
	Broadcast(matchID uuid.UUID, channel models.Channel, payload any)
}

// BroadcastCounter records each broadcast by channel.
type BroadcastCounter interface {
	RecordBroadcast(channel models.Channel)
}

// Fanout hands every broadcast to each of its targets in order.
type Fanout struct {
	targets []Broadcaster
	counter BroadcastCounter
}

// NewFanout combines targets; nil targets are skipped. counter may be nil.
func NewFanout(counter BroadcastCounter, targets ...Broadcaster) *Fanout {
	f := &Fanout{counter: counter}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

func (f *Fanout) Broadcast(matchID uuid.UUID, channel models.Channel, payload any) {
	if f.counter != nil {
		f.counter.RecordBroadcast(channel)
	}
	for _, t := range f.targets {
		t.Broadcast(matchID, channel, payload)
	}
}
