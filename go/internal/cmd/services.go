package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/config"
	"github.com/mcdev12/capturezone/go/internal/dbconfig"
	"github.com/mcdev12/capturezone/go/internal/driver"
	"github.com/mcdev12/capturezone/go/internal/eventlog"
	"github.com/mcdev12/capturezone/go/internal/game"
	"github.com/mcdev12/capturezone/go/internal/gateway"
	"github.com/mcdev12/capturezone/go/internal/matchdir"
	"github.com/mcdev12/capturezone/go/internal/metrics"
	"github.com/mcdev12/capturezone/go/internal/natsbus"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Matches     matchdir.Store
	History     *eventlog.Log
	Driver      *driver.Driver
	Game        *game.Service
	Connections *gateway.ConnectionManager
	Metrics     *metrics.Metrics
	Listener    *eventlog.Listener

	database *sql.DB
	nc       *nats.Conn
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Storage → EventLog → AreaControl → Driver → Game, with every push going through one fan-out.
	s := &Services{}
	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.New(registry)

	var repo eventlog.Repository
	switch cfg.Store {
	case config.StorePostgres:
		database, err := dbconfig.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.database = database
		s.Matches = matchdir.NewPostgresStore(database)
		repo = eventlog.NewPostgresRepository(database)
	default:
		log.Warn().Msg("using in-memory storage; history is lost on exit")
		s.Matches = matchdir.NewMemoryStore()
		repo = eventlog.NewMemoryRepository()
	}

	logOpts := []eventlog.Option{eventlog.WithMetrics(s.Metrics)}
	var natsPush *natsbus.Broadcaster
	if cfg.NATSURL != "" {
		jsCfg := natsbus.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL

		nc, err := natsbus.Connect(jsCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.nc = nc

		publisher, err := natsbus.NewJetStreamPublisher(ctx, nc, jsCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		logOpts = append(logOpts, eventlog.WithPublisher(publisher))
		natsPush = natsbus.NewBroadcaster(nc, natsbus.DefaultPushPrefix)
		log.Info().Str("url", cfg.NATSURL).Str("stream", jsCfg.StreamName).Msg("publishing history to NATS")
	}
	s.History = eventlog.New(repo, clock, logOpts...)

	s.Connections = gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	targets := []gateway.Broadcaster{s.Connections}
	if natsPush != nil {
		targets = append(targets, natsPush)
	}
	broadcaster := gateway.NewFanout(s.Metrics, targets...)

	// Half an interval tolerates jitter between replicas ticking the same match.
	area := areacontrol.NewEngine(cfg.Policy.AreaControl, areacontrol.NewRegistry(), s.History,
		areacontrol.WithMinTickSpacing(cfg.Policy.Driver.AreaInterval()/2))
	s.Driver = driver.New(cfg.Policy.Driver, clock, s.Matches, s.History, area, broadcaster, driver.WithMetrics(s.Metrics))
	s.Game = game.NewService(s.Matches, s.History, s.Driver, area, broadcaster, clock)
	s.Driver.SetExpirer(s.Game)
	s.Connections.SetPositionSink(s.Game)

	if s.database != nil {
		listener, err := setupListener(s.History, cfg.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Listener = listener
	}
	return s, nil
}

// Close releases the external connections. The listener closes itself when its context ends.
func (s *Services) Close() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}
