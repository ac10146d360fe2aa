package main

import (
	"fmt"

	"github.com/mcdev12/capturezone/go/internal/dbconfig"
	"github.com/mcdev12/capturezone/go/internal/eventlog"
)

// setupListener subscribes the history cache to appends made by other processes.
func setupListener(history *eventlog.Log, cfg dbconfig.Config) (*eventlog.Listener, error) {
	lcfg := eventlog.DefaultListenerConfig()
	lcfg.DatabaseURL = cfg.DSN()

	listener, err := eventlog.NewListener(history, lcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start history listener: %w", err)
	}
	return listener, nil
}
