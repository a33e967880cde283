package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.APIPort != "8080" {
		t.Errorf("APIPort = %q, want 8080", cfg.APIPort)
	}
	if cfg.NATSTaskSubject != "pipeline.stage.tasks" {
		t.Errorf("NATSTaskSubject = %q", cfg.NATSTaskSubject)
	}
	if cfg.LeaseTTLSeconds != 600 {
		t.Errorf("LeaseTTLSeconds = %d, want 600", cfg.LeaseTTLSeconds)
	}
	if !cfg.ModelMatchEnabled {
		t.Error("ModelMatchEnabled = false, want true")
	}
	if cfg.SchedulerRate != 5 {
		t.Errorf("SchedulerRate = %v, want 5", cfg.SchedulerRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("LEASE_TTL_SECONDS", "120")
	t.Setenv("MODEL_MATCH_ENABLED", "false")
	t.Setenv("SCHEDULER_RATE_PER_SECOND", "2.5")

	cfg := Load()

	if cfg.APIPort != "9999" {
		t.Errorf("APIPort = %q, want 9999", cfg.APIPort)
	}
	if cfg.LeaseTTLSeconds != 120 {
		t.Errorf("LeaseTTLSeconds = %d, want 120", cfg.LeaseTTLSeconds)
	}
	if cfg.ModelMatchEnabled {
		t.Error("ModelMatchEnabled = true, want false")
	}
	if cfg.SchedulerRate != 2.5 {
		t.Errorf("SchedulerRate = %v, want 2.5", cfg.SchedulerRate)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("FIELD_PARALLELISM", "not-a-number")

	cfg := Load()

	if cfg.FieldParallelism != 4 {
		t.Errorf("FieldParallelism = %d, want default 4", cfg.FieldParallelism)
	}
}

func TestLoadRetryPolicyDefault(t *testing.T) {
	policy, err := LoadRetryPolicy("")
	if err != nil {
		t.Fatalf("LoadRetryPolicy: %v", err)
	}
	if policy != domain.DefaultRetryPolicy() {
		t.Errorf("policy = %+v, want defaults", policy)
	}
}

func TestLoadRetryPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.yaml")
	data := "max_retries: 5\nbackoff_base: 30s\nbackoff_cap: 1h\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadRetryPolicy(path)
	if err != nil {
		t.Fatalf("LoadRetryPolicy: %v", err)
	}
	if policy.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", policy.MaxRetries)
	}
	if policy.BackoffBase != 30*time.Second {
		t.Errorf("BackoffBase = %s, want 30s", policy.BackoffBase)
	}
	if policy.BackoffCap != time.Hour {
		t.Errorf("BackoffCap = %s, want 1h", policy.BackoffCap)
	}
}

func TestLoadRetryPolicyPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.yaml")
	if err := os.WriteFile(path, []byte("max_retries: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadRetryPolicy(path)
	if err != nil {
		t.Fatalf("LoadRetryPolicy: %v", err)
	}
	defaults := domain.DefaultRetryPolicy()
	if policy.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", policy.MaxRetries)
	}
	if policy.BackoffBase != defaults.BackoffBase || policy.BackoffCap != defaults.BackoffCap {
		t.Errorf("backoff = %s/%s, want defaults", policy.BackoffBase, policy.BackoffCap)
	}
}

func TestLoadRetryPolicyRejectsInvertedBackoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.yaml")
	if err := os.WriteFile(path, []byte("backoff_base: 1h\nbackoff_cap: 1m\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRetryPolicy(path); err == nil {
		t.Error("expected error for backoff_cap below backoff_base")
	}
}

func TestLoadRetryPolicyMissingFile(t *testing.T) {
	if _, err := LoadRetryPolicy(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
