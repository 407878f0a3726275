package config

import "testing"

func TestLoadRequiresSecretPassphrase(t *testing.T) {
	t.Setenv("SECRET_PASSPHRASE", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SECRET_PASSPHRASE is unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SECRET_PASSPHRASE", "test-passphrase")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("MAX_CONCURRENT_JOBS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.MaxConcurrentJobs != 4 {
		t.Errorf("MaxConcurrentJobs = %d, want 4", cfg.MaxConcurrentJobs)
	}
	if cfg.StagingDir != "./output/staging" {
		t.Errorf("StagingDir = %q, want ./output/staging", cfg.StagingDir)
	}
	if cfg.StagingSpillSize != 1024*1024 {
		t.Errorf("StagingSpillSize = %d, want 1 MiB", cfg.StagingSpillSize)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Errorf("LLMModel = %q, want gpt-4o", cfg.LLMModel)
	}
}

func TestLoadRejectsInvalidLogFormat(t *testing.T) {
	t.Setenv("SECRET_PASSPHRASE", "test-passphrase")
	t.Setenv("LOG_FORMAT", "xml")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid LOG_FORMAT")
	}
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("SECRET_PASSPHRASE", "test-passphrase")
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for MAX_CONCURRENT_JOBS=0")
	}
}
