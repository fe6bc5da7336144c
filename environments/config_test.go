package environments

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points Load at a missing env file so a developer's .env cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Store.Driver != StoreMySQL {
		t.Errorf("expected default driver %q, got %q", StoreMySQL, cfg.Store.Driver)
	}
	if cfg.Caller.TickInterval != time.Minute || !cfg.Caller.Enabled {
		t.Errorf("unexpected caller defaults %+v", cfg.Caller)
	}
	if cfg.BatchCaller.Enabled || cfg.BatchCaller.MaxRecipients != 50 || cfg.BatchCaller.ChunkSize != 50 {
		t.Errorf("unexpected batch caller defaults %+v", cfg.BatchCaller)
	}
	if cfg.Analyzer.MaxRetries != 3 || cfg.Analyzer.BaseRetryDelay != time.Second {
		t.Errorf("unexpected analyzer defaults %+v", cfg.Analyzer)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("STORE_DRIVER", StoreBolt)
	t.Setenv("BATCH_CALLER_ENABLED", "true")
	t.Setenv("BATCH_CHUNK_SIZE", "20")
	t.Setenv("CALLER_TICK_INTERVAL", "30s")
	t.Setenv("ANALYZER_BATCH_INTERVAL_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Store.Driver != StoreBolt {
		t.Errorf("expected driver %q, got %q", StoreBolt, cfg.Store.Driver)
	}
	if !cfg.BatchCaller.Enabled || cfg.BatchCaller.ChunkSize != 20 {
		t.Errorf("unexpected batch caller %+v", cfg.BatchCaller)
	}
	if cfg.Caller.TickInterval != 30*time.Second {
		t.Errorf("expected 30s tick interval, got %v", cfg.Caller.TickInterval)
	}
	if cfg.Analyzer.BatchInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms batch interval, got %v", cfg.Analyzer.BatchInterval)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":         {"STORE_DRIVER": "sqlite"},
		"chunk above dialer max": {"BATCH_CHUNK_SIZE": "80", "DIALER_MAX_BATCH_SIZE": "50"},
		"zero batch size":        {"CALLER_BATCH_SIZE": "0"},
		"bad dialer url":         {"DIALER_URL": "not a url"},
		"unknown log level":      {"LOG_LEVEL": "verbose"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			for k, v := range env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
				t.Fatalf("expected invalid configuration error, got %v", err)
			}
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	const key = "DIALER_AGENT_ID"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s is set in the environment", key)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(key+"=agent-from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Dialer.AgentID != "agent-from-file" {
		t.Errorf("expected agent from env file, got %q", cfg.Dialer.AgentID)
	}
}

func TestGetEnvHelpers_FallBackOnBadValues(t *testing.T) {
	t.Setenv("TEST_INT", "ten")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_DURATION", "soon")

	if got := GetEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
	if got := GetEnvAsBool("TEST_BOOL", true); !got {
		t.Errorf("expected fallback true, got %v", got)
	}
	if got := GetEnvAsDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback 1s, got %v", got)
	}
}
