package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != DefaultServerLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultServerLogLevel, cfg.Server.LogLevel)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Evidence.MinConfidence != DefaultEvidenceMinConfidence {
		t.Errorf("Expected default min confidence %v, got %v", DefaultEvidenceMinConfidence, cfg.Evidence.MinConfidence)
	}
	if cfg.Evidence.MaxQueries != DefaultEvidenceMaxQueries {
		t.Errorf("Expected default max queries %d, got %d", DefaultEvidenceMaxQueries, cfg.Evidence.MaxQueries)
	}
	if cfg.Monitor.DriftCeiling != DefaultMonitorDriftCeiling {
		t.Errorf("Expected default drift ceiling %v, got %v", DefaultMonitorDriftCeiling, cfg.Monitor.DriftCeiling)
	}
	if cfg.Notify.MaxAttempts != DefaultNotifyMaxAttempts {
		t.Errorf("Expected default notify attempts %d, got %d", DefaultNotifyMaxAttempts, cfg.Notify.MaxAttempts)
	}
	if cfg.Notify.BackoffBase != DefaultNotifyBackoffBase {
		t.Errorf("Expected default backoff base %s, got %s", DefaultNotifyBackoffBase, cfg.Notify.BackoffBase)
	}
	if cfg.Transports.Email.Mode != DefaultEmailMode {
		t.Errorf("Expected default email mode %s, got %s", DefaultEmailMode, cfg.Transports.Email.Mode)
	}
	if cfg.Scheduler.TickInterval != DefaultSchedulerTickInterval {
		t.Errorf("Expected default scheduler tick interval %s, got %s", DefaultSchedulerTickInterval, cfg.Scheduler.TickInterval)
	}
	if cfg.Retention.KeepLastN != DefaultRetentionKeepLastN {
		t.Errorf("Expected default keep_last_n %d, got %d", DefaultRetentionKeepLastN, cfg.Retention.KeepLastN)
	}
	if len(cfg.Compare.MandatoryKeywords) == 0 {
		t.Error("Expected default mandatory keywords to be populated")
	}
	if cfg.Daemon.WorkspacePath == "" {
		t.Error("Expected daemon workspace path to be set")
	}
}

func TestLoadConfigFileOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	dir := filepath.Join(home, ".kanshi")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	content := []byte("server:\n  log_level: debug\nmonitor:\n  drift_ceiling: 0.1\nnotify:\n  max_attempts: 5\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Monitor.DriftCeiling != 0.1 {
		t.Errorf("Expected drift ceiling 0.1, got %v", cfg.Monitor.DriftCeiling)
	}
	if cfg.Notify.MaxAttempts != 5 {
		t.Errorf("Expected notify attempts 5, got %d", cfg.Notify.MaxAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("KANSHI_SERVER_LOG_LEVEL", "warn")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Server.LogLevel)
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "5s")
	if err != nil {
		t.Fatalf("DurationOrDefault failed: %v", err)
	}
	if d.Seconds() != 5 {
		t.Errorf("Expected 5s, got %v", d)
	}

	d, err = DurationOrDefault("250ms", "5s")
	if err != nil {
		t.Fatalf("DurationOrDefault failed: %v", err)
	}
	if d.Milliseconds() != 250 {
		t.Errorf("Expected 250ms, got %v", d)
	}

	if _, err := DurationOrDefault("bogus", "5s"); err == nil {
		t.Error("Expected error for invalid duration")
	}
}
