// Package config assembles process configuration from .env, the environment and the policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mcdev12/capturezone/go/internal/areacontrol"
	"github.com/mcdev12/capturezone/go/internal/dbconfig"
	"github.com/mcdev12/capturezone/go/internal/driver"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Policy is the tunable game policy, read from the YAML policy file.
type Policy struct {
	Driver      driver.Config      `yaml:",inline"`
	AreaControl areacontrol.Policy `yaml:"area_control"`
}

func DefaultPolicy() Policy {
	return Policy{
		Driver:      driver.DefaultConfig(),
		AreaControl: areacontrol.DefaultPolicy(),
	}
}

type Config struct {
	HTTPAddr   string
	LogLevel   string
	Store      string
	NATSURL    string
	PolicyFile string
	SeedFile   string

	Policy   Policy
	Database dbconfig.Config
}

// Load reads .env if present, then the environment, then POLICY_FILE if set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Store:      strings.ToLower(getEnv("STORE", StoreMemory)),
		NATSURL:    getEnv("NATS_URL", ""),
		PolicyFile: getEnv("POLICY_FILE", ""),
		SeedFile:   getEnv("SEED_FILE", ""),
		Policy:     DefaultPolicy(),
		Database:   dbconfig.NewConfigFromEnv(),
	}

	if cfg.Store != StoreMemory && cfg.Store != StorePostgres {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.Store)
	}

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}
	return cfg, nil
}

// LoadPolicy reads a policy file. Keys it leaves out keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return policy, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.Driver.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if p.Driver.BroadcastEvery < 1 {
		errs = append(errs, errors.New("broadcast_every_ticks must be at least 1"))
	}
	if p.Driver.AreaEvery < 1 {
		errs = append(errs, errors.New("area_every_ticks must be at least 1"))
	}
	if p.AreaControl.PointsPerTick <= 0 {
		errs = append(errs, errors.New("area_control.points_per_tick must be positive"))
	}
	if p.AreaControl.CaptureThreshold <= 0 {
		errs = append(errs, errors.New("area_control.capture_threshold must be positive"))
	}
	if p.AreaControl.EarthRadiusKm <= 0 {
		errs = append(errs, errors.New("area_control.earth_radius_km must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
