// README: Config loading tests (defaults, YAML overlay, env precedence).
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StorePostgres || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.EtaIntervalSeconds != 900 || cfg.Scheduler.RatingIntervalSeconds != 86400 || !cfg.Scheduler.RetryHourlyAligned {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Maps.Timeout != 10*time.Second || cfg.Planner.ServiceTime != 300*time.Second {
		t.Fatalf("timeouts = %v %v", cfg.Maps.Timeout, cfg.Planner.ServiceTime)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	yaml := `
store: memory
scheduler:
  etaIntervalSeconds: 60
  retryHourlyAligned: false
planner:
  serviceTime: 2m
  trace: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISPATCH_CONFIG_FILE", path)
	t.Setenv("DISPATCH_ETA_INTERVAL_SECONDS", "120")
	t.Setenv("DISPATCH_MAPS_TIMEOUT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("store = %s", cfg.Store)
	}
	if cfg.Scheduler.EtaIntervalSeconds != 120 {
		t.Errorf("env should win over yaml, got %d", cfg.Scheduler.EtaIntervalSeconds)
	}
	if cfg.Scheduler.RetryHourlyAligned || cfg.Scheduler.RatingIntervalSeconds != 86400 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Planner.ServiceTime != 2*time.Minute || !cfg.Planner.Trace {
		t.Errorf("planner = %+v", cfg.Planner)
	}
	if cfg.Maps.Timeout != 3*time.Second {
		t.Errorf("maps timeout = %v", cfg.Maps.Timeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown store accepted")
	}
	cfg = Defaults()
	cfg.Store = StoreFirestore
	if err := cfg.Validate(); err == nil {
		t.Fatal("firestore without project accepted")
	}
	cfg.Firebase.ProjectID = "demo"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid firestore config rejected: %v", err)
	}
}
