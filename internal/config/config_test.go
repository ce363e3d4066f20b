package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != 1 || cfg.HTTPPort != 19884 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kerneld.toml")
	contents := "node_id = 7\nhttp_port = 8080\nstate_driver = \"sqlite3\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != 7 || cfg.HTTPPort != 8080 || cfg.StateDriver != "sqlite3" {
		t.Fatalf("file layer not applied: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kerneld.toml")
	if err := os.WriteFile(path, []byte("node_id = 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("KERNELD__node_id", "42")
	t.Setenv("KERNELD__peer_addrs", "10.0.0.1:9000, 10.0.0.2:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != 42 {
		t.Fatalf("env layer did not override file, got node_id=%d", cfg.NodeID)
	}
	if len(cfg.PeerAddrs) != 2 || cfg.PeerAddrs[0] != "10.0.0.1:9000" {
		t.Fatalf("peer_addrs not parsed: %+v", cfg.PeerAddrs)
	}
}
