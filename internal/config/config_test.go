package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	yaml := []byte(`
backend_a:
  name: A
  command: claude
backend_b:
  name: B
  command: gemini
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Cols != 220 || cfg.Rows != 50 {
		t.Fatalf("geometry defaults = %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.ContextWindow != 5 {
		t.Fatalf("context window = %d, want 5", cfg.ContextWindow)
	}
	if cfg.BackendA.Command != "claude" || cfg.BackendB.Command != "gemini" {
		t.Fatalf("backend commands not parsed: %+v / %+v", cfg.BackendA, cfg.BackendB)
	}
}

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	t.Setenv("DUOCODE_TEST_KEY", "secret-value")
	yaml := []byte(`
backend_a:
  name: A
  command: claude
  env:
    - API_KEY=${DUOCODE_TEST_KEY}
backend_b:
  name: B
  command: gemini
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if len(cfg.BackendA.Env) != 1 || cfg.BackendA.Env[0] != "API_KEY=secret-value" {
		t.Fatalf("env = %+v", cfg.BackendA.Env)
	}
}

func TestLoadReadsEnvFileBeforeConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := dir + "/.env"
	cfgPath := dir + "/config.yaml"

	if err := os.WriteFile(envPath, []byte("DUOCODE_FILE_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	yaml := `
backend_a:
  name: A
  command: claude
  env:
    - API_KEY=${DUOCODE_FILE_KEY}
backend_b:
  name: B
  command: gemini
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath, envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendA.Env[0] != "API_KEY=from-file" {
		t.Fatalf("env = %+v", cfg.BackendA.Env)
	}
}
