package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
auth:
  instance_url: https://na1.example.test
poll:
  interval: 250ms
ledger:
  path: /tmp/forcebulk-test.db
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("SF_ACCESS_TOKEN", "tok-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.InstanceURL != "https://na1.example.test" {
		t.Errorf("InstanceURL = %q", cfg.Auth.InstanceURL)
	}
	if cfg.Auth.AccessToken != "tok-from-env" {
		t.Errorf("AccessToken = %q, want env value", cfg.Auth.AccessToken)
	}
	// Defaults fill in what the file omits.
	if cfg.Auth.APIVersion != "58.0" {
		t.Errorf("APIVersion = %q, want default 58.0", cfg.Auth.APIVersion)
	}
	if cfg.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval)
	}
	if cfg.Poll.Timeout != 10*time.Minute {
		t.Errorf("Poll.Timeout = %v, want default 10m", cfg.Poll.Timeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("SF_INSTANCE_URL", "")
	t.Setenv("SF_ACCESS_TOKEN", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load without credentials = nil error, want failure")
	}
}
