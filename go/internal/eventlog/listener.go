package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // How often to check the connection
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "history_events",
		PingInterval:  90 * time.Second,
	}
}

// Listener keeps the history cache coherent when several processes append to the same instance.
// Each insert into history_events notifies "<instance id>:<event id>".
type Listener struct {
	log      *Log
	listener *pq.Listener
	cfg      ListenerConfig
}

func NewListener(l *Log, cfg ListenerConfig) (*Listener, error) {
	pl := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := pl.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{log: l, listener: pl, cfg: cfg}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// Reconnected: notifications may have been missed while the connection was down.
				l.log.InvalidateAll()
				continue
			}
			if err := l.handleNotification(note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) handleNotification(extra string) error {
	instanceID, eventID, err := parseNotification(extra)
	if err != nil {
		return err
	}
	l.log.NoteAppend(instanceID, eventID)
	return nil
}

func parseNotification(extra string) (instanceID, eventID uuid.UUID, err error) {
	inst, ev, ok := strings.Cut(extra, ":")
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed notification %q", extra)
	}
	if instanceID, err = uuid.Parse(inst); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid instance ID in notification: %w", err)
	}
	if eventID, err = uuid.Parse(ev); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid event ID in notification: %w", err)
	}
	return instanceID, eventID, nil
}
