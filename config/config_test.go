package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadNonexistentPathUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a nonexistent config path, got %v", err)
	}
	if cfg.Bind.Port != 5050 {
		t.Errorf("Bind.Port = %d, want default 5050", cfg.Bind.Port)
	}
	if !cfg.DHT.Enabled {
		t.Error("DHT.Enabled default should be true")
	}
}

func TestLoadMalformedFileIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadmeshd.yaml")
	if err := os.WriteFile(path, []byte("bind:\n  port: [this is not valid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected error loading malformed config file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadmeshd.yaml")
	content := "bind:\n  port: 9090\nnet:\n  maxPeers: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind.Port != 9090 {
		t.Errorf("Bind.Port = %d, want 9090", cfg.Bind.Port)
	}
	if cfg.Net.MaxPeers != 5 {
		t.Errorf("Net.MaxPeers = %d, want 5", cfg.Net.MaxPeers)
	}
}
