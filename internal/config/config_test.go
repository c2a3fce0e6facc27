package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxDeliveryAttempts != 6 {
		t.Errorf("expected 6 delivery attempts, got %d", cfg.MaxDeliveryAttempts)
	}
	if cfg.WorkerPassBudget != 45*time.Second {
		t.Errorf("expected 45s pass budget, got %s", cfg.WorkerPassBudget)
	}
	if cfg.OracleTimeout != 25*time.Second {
		t.Errorf("expected 25s oracle timeout, got %s", cfg.OracleTimeout)
	}
	if cfg.ConfidenceFloor != 0.70 {
		t.Errorf("expected 0.70 confidence floor, got %f", cfg.ConfidenceFloor)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "90s")
	t.Setenv("ORACLE_PROVIDER", "bedrock")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("ORACLE_TEMPERATURE", "0.5")

	cfg := Load()

	if cfg.QueueVisibility != 90*time.Second {
		t.Errorf("expected 90s visibility, got %s", cfg.QueueVisibility)
	}
	if cfg.OracleProvider != "bedrock" {
		t.Errorf("expected bedrock provider, got %s", cfg.OracleProvider)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue enabled")
	}
	if cfg.OracleTemperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.OracleTemperature)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("QUEUE_BATCH_SIZE", "not-a-number")
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "soon")

	cfg := Load()

	if cfg.QueueBatchSize != 10 {
		t.Errorf("expected fallback batch size 10, got %d", cfg.QueueBatchSize)
	}
	if cfg.QueueVisibility != 120*time.Second {
		t.Errorf("expected fallback visibility 120s, got %s", cfg.QueueVisibility)
	}
}
