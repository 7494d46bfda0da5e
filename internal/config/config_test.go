package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Addr() != ":8080" {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Risk.ConfidenceLevel != 0.99 || cfg.Risk.Simulations != 10000 || cfg.Risk.MinObservations != 20 {
		t.Errorf("unexpected risk defaults %+v", cfg.Risk)
	}
	if cfg.Redis.TTL != 30*time.Second {
		t.Errorf("redis ttl = %v", cfg.Redis.TTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RISK_SERVER_PORT", "9090")
	t.Setenv("RISK_RISK_CONFIDENCE_LEVEL", "0.95")
	t.Setenv("RISK_DATABASE_URL", "postgres://risk@localhost/risk")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Risk.ConfidenceLevel != 0.95 {
		t.Errorf("confidence = %v, want 0.95", cfg.Risk.ConfidenceLevel)
	}
	if cfg.Database.URL != "postgres://risk@localhost/risk" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "risk:\n  horizon_days: 10\n  default_correlation: 0.5\nkafka:\n  topic: desk.risk\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.HorizonDays != 10 || cfg.Risk.DefaultCorrelation != 0.5 || cfg.Kafka.Topic != "desk.risk" {
		t.Errorf("file values not applied: %+v %+v", cfg.Risk, cfg.Kafka)
	}
}

func TestLoad_RejectsBadConfidence(t *testing.T) {
	t.Setenv("RISK_RISK_CONFIDENCE_LEVEL", "0.9")
	if _, err := Load(); err == nil {
		t.Error("expected error for unsupported confidence level")
	}
}
