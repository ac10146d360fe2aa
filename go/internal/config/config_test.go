package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicyOverridesOnlyGivenKeys(t *testing.T) {
	path := writePolicy(t, `
tick_interval: 500ms
area_control:
  capture_threshold: 100
`)
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatal(err)
	}
	if policy.Driver.TickInterval != 500*time.Millisecond {
		t.Errorf("tick_interval = %s", policy.Driver.TickInterval)
	}
	if policy.AreaControl.CaptureThreshold != 100 {
		t.Errorf("capture_threshold = %v", policy.AreaControl.CaptureThreshold)
	}
	if policy.Driver.BroadcastEvery != 20 || policy.AreaControl.PointsPerTick != 20 || policy.AreaControl.EarthRadiusKm != 6371 {
		t.Errorf("defaults lost: %+v", policy)
	}
}

func TestLoadPolicyRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero tick":         "tick_interval: 0s\n",
		"negative points":   "area_control:\n  points_per_tick: -5\n",
		"no broadcasts":     "broadcast_every_ticks: 0\n",
		"not yaml":          "tick_interval: [\n",
		"duration not text": "tick_interval: {a: 1}\n",
	}
	for name, body := range cases {
		if _, err := LoadPolicy(writePolicy(t, body)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected an error")
	}
}

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE", "Postgres")
	t.Setenv("DB_NAME", "zones")
	t.Setenv("POLICY_FILE", writePolicy(t, "broadcast_every_ticks: 10\n"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Store != StorePostgres || cfg.Database.Database != "zones" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Policy.Driver.BroadcastEvery != 10 {
		t.Fatalf("policy = %+v", cfg.Policy)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "redis")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STORE") {
		t.Fatalf("err = %v", err)
	}
}
