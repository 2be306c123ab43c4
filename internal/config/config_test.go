package config

import "testing"

func TestLoadIncludesOrganizerDefaults(t *testing.T) {
	t.Setenv("ORGANIZE_THRESHOLD", "")
	t.Setenv("CONFIDENCE_FLOOR", "")
	t.Setenv("WORKER_POOL_SIZE", "")
	t.Setenv("ROLLBACK_GRACE_MINUTES", "")

	cfg := Load()
	if cfg.OrganizeThreshold != 2 {
		t.Fatalf("expected default organize threshold 2, got %d", cfg.OrganizeThreshold)
	}
	if cfg.ConfidenceFloor != 0.5 {
		t.Fatalf("expected default confidence floor 0.5, got %v", cfg.ConfidenceFloor)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Fatalf("expected default pool size 4, got %d", cfg.WorkerPoolSize)
	}
	if cfg.RollbackGraceMinutes != 15 {
		t.Fatalf("expected default rollback grace 15, got %d", cfg.RollbackGraceMinutes)
	}
}

func TestLoadParsesOverridesAndIgnoresGarbage(t *testing.T) {
	t.Setenv("ORGANIZE_THRESHOLD", "3")
	t.Setenv("CONFIDENCE_FLOOR", "0.65")
	t.Setenv("MAX_RETRIES_PER_FILE", "not-a-number")
	t.Setenv("API_RATE_LIMIT_RPS", "5")

	cfg := Load()
	if cfg.OrganizeThreshold != 3 {
		t.Fatalf("expected organize threshold override 3, got %d", cfg.OrganizeThreshold)
	}
	if cfg.ConfidenceFloor != 0.65 {
		t.Fatalf("expected confidence floor override 0.65, got %v", cfg.ConfidenceFloor)
	}
	if cfg.MaxRetriesPerFile != 2 {
		t.Fatalf("expected garbage retries to fall back to 2, got %d", cfg.MaxRetriesPerFile)
	}
	if cfg.APIRateLimitRPS != 5 {
		t.Fatalf("expected rate limit override 5, got %v", cfg.APIRateLimitRPS)
	}
}
