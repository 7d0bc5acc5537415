package config

import "testing"

func TestValidate_RequiresBindAddrDatabaseURLAndAuthToken(t *testing.T) {
	cfg := &Config{
		RetainDays:           DefaultRetainDays,
		PartitionHorizonDays: DefaultPartitionHorizonDays,
		WorkerBatch:          DefaultWorkerBatch,
		WorkerConcurrency:    DefaultWorkerConcurrency,
		GNSSMaxAccuracyM:     DefaultGNSSMaxAccuracyM,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty bind addr/database url/auth token")
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := &Config{
		BindAddr:             ":8080",
		DatabaseURL:          "postgres://localhost/geoloc",
		AuthToken:            "secret",
		RetainDays:           DefaultRetainDays,
		PartitionHorizonDays: DefaultPartitionHorizonDays,
		WorkerBatch:          DefaultWorkerBatch,
		WorkerConcurrency:    DefaultWorkerConcurrency,
		GNSSMaxAccuracyM:     DefaultGNSSMaxAccuracyM,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsNonPositiveBatchSize(t *testing.T) {
	cfg := &Config{
		BindAddr:             ":8080",
		DatabaseURL:          "postgres://localhost/geoloc",
		AuthToken:            "secret",
		RetainDays:           DefaultRetainDays,
		PartitionHorizonDays: DefaultPartitionHorizonDays,
		WorkerBatch:          0,
		WorkerConcurrency:    DefaultWorkerConcurrency,
		GNSSMaxAccuracyM:     DefaultGNSSMaxAccuracyM,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero worker batch size")
	}
}

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/geoloc")
	t.Setenv("AUTH_TOKEN", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BindAddr != DefaultBindAddr {
		t.Errorf("expected default bind addr %q, got %q", DefaultBindAddr, cfg.BindAddr)
	}
	if cfg.RetainDays != DefaultRetainDays {
		t.Errorf("expected default retain days %d, got %d", DefaultRetainDays, cfg.RetainDays)
	}
}

func TestLoad_ParsesKafkaBrokersList(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/geoloc")
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
}
