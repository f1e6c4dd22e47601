package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultbank/vaultbank/internal/crypto"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultbankd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
listen:
  host: 0.0.0.0
  port: 6000
  api_port: 9090
  read_timeout: 2s

database:
  path: /tmp/test.db

security:
  nonce_ttl: 10m
  sweep_interval: 30s

limits:
  max_attempts: 3
  window: 2m
  lockout: 30m
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Listen.Host)
	}
	if cfg.Listen.Port != 6000 {
		t.Errorf("expected port 6000, got %d", cfg.Listen.Port)
	}
	if cfg.Listen.APIPort != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.Listen.APIPort)
	}
	if cfg.Listen.ReadTimeout != 2*time.Second {
		t.Errorf("expected read timeout 2s, got %v", cfg.Listen.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("expected db path /tmp/test.db, got %s", cfg.Database.Path)
	}
	if cfg.Security.NonceTTL != 10*time.Minute {
		t.Errorf("expected nonce ttl 10m, got %v", cfg.Security.NonceTTL)
	}
	if cfg.Limits.MaxAttempts != 3 || cfg.Limits.Lockout != 30*time.Minute {
		t.Errorf("unexpected limits: %+v", cfg.Limits)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Host != "127.0.0.1" || cfg.Listen.Port != 5000 {
		t.Errorf("unexpected listen defaults: %+v", cfg.Listen)
	}
	if cfg.Security.NonceTTL != 5*time.Minute {
		t.Errorf("expected default nonce ttl 5m, got %v", cfg.Security.NonceTTL)
	}
	if cfg.Limits.MaxAttempts != 5 || cfg.Limits.Window != 5*time.Minute || cfg.Limits.Lockout != 15*time.Minute {
		t.Errorf("unexpected limit defaults: %+v", cfg.Limits)
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_VB_KEY", "c2VjcmV0")

	yaml := `
security:
  shared_key: ${TEST_VB_KEY}
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Security.SharedKey != "c2VjcmV0" {
		t.Errorf("expected substituted key, got %q", cfg.Security.SharedKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_HOST", "10.0.0.1")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DB_PATH", "/tmp/override.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Host != "10.0.0.1" || cfg.Listen.Port != 7000 {
		t.Errorf("env overrides not applied: %+v", cfg.Listen)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("DB_PATH override not applied: %s", cfg.Database.Path)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	if _, err := Load(writeTemp(t, "listen:\n  port: 99999\n")); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestSharedKeyFromBase64(t *testing.T) {
	key := bytes.Repeat([]byte{0x17}, crypto.KeySize)

	cfg := Default()
	cfg.Security.SharedKey = base64.StdEncoding.EncodeToString(key)

	got, err := cfg.SharedKeyBytes()
	if err != nil {
		t.Fatalf("SharedKeyBytes failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("decoded key mismatch")
	}
}

func TestSharedKeyFromFile(t *testing.T) {
	key := bytes.Repeat([]byte{0x23}, crypto.KeySize)
	path := filepath.Join(t.TempDir(), "shared_key.key")
	if err := os.WriteFile(path, key, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	cfg := Default()
	cfg.Security.SharedKeyFile = path

	got, err := cfg.SharedKeyBytes()
	if err != nil {
		t.Fatalf("SharedKeyBytes failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("key file contents mismatch")
	}
}

func TestSharedKeyErrors(t *testing.T) {
	cfg := Default()
	cfg.Security.SharedKeyFile = filepath.Join(t.TempDir(), "missing.key")
	if _, err := cfg.SharedKeyBytes(); err == nil {
		t.Error("expected error with no key available")
	}

	cfg.Security.SharedKey = "not-base64!!!"
	if _, err := cfg.SharedKeyBytes(); err == nil {
		t.Error("expected error for invalid base64")
	}

	cfg.Security.SharedKey = base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := cfg.SharedKeyBytes(); err == nil {
		t.Error("expected error for wrong key length")
	}
}
