package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8084" || cfg.GRPCAddr != ":9094" {
		t.Fatalf("unexpected listen addresses: %s %s", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.DatabaseDriver != "postgres" || cfg.EventMaxBatchBytes != 1048576 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected broker disabled by default, got %q", cfg.RedisAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/cw.db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EVENT_MAX_BATCH_BYTES", "2048")
	t.Setenv("HEALTH_PROBE_INTERVAL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.SQLitePath != "/tmp/cw.db" {
		t.Fatalf("unexpected database settings: %+v", cfg)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.EventMaxBatchBytes != 2048 {
		t.Fatalf("unexpected broker settings: %+v", cfg)
	}
	if cfg.HealthProbeInterval != time.Minute {
		t.Fatalf("unexpected probe interval %s", cfg.HealthProbeInterval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"DATABASE_DRIVER":       "mysql",
		"EVENT_MAX_BATCH_BYTES": "0",
		"DB_MAX_CONNS":          "many",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
