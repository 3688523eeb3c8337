package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %s, want :9090", cfg.Server.Addr)
	}
	if cfg.Auth.AdminUser != "admin" {
		t.Errorf("AdminUser = %s, want admin", cfg.Auth.AdminUser)
	}
	if cfg.Auth.AdminPassHash != "" {
		t.Error("AdminPassHash should default empty (login disabled)")
	}
	if cfg.XPPerTask != 10 {
		t.Errorf("XPPerTask = %d, want 10", cfg.XPPerTask)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	data := `
server:
  addr: ":8088"
auth:
  admin_user: ops
xp_per_task: 25
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8088" {
		t.Errorf("Addr = %s, want overridden :8088", cfg.Server.Addr)
	}
	if cfg.Auth.AdminUser != "ops" {
		t.Errorf("AdminUser = %s, want ops", cfg.Auth.AdminUser)
	}
	if cfg.XPPerTask != 25 {
		t.Errorf("XPPerTask = %d, want 25", cfg.XPPerTask)
	}
	// Unset keys keep their defaults.
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want default info", cfg.LogLevel)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %s, want default ./data", cfg.DataDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
