package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Orchestrator.PollInterval != time.Second || cfg.Orchestrator.DeltaChunkRunes != 120 {
		t.Fatalf("orchestrator defaults wrong: %+v", cfg.Orchestrator)
	}
	if cfg.TTS.Standard != "polly" || cfg.TTS.Premium != "elevenlabs" {
		t.Fatalf("tts defaults wrong: %+v", cfg.TTS)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liberty.yaml")
	raw := []byte("server:\n  addr: \":9900\"\nassistant:\n  assistant_id: asst_123\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIBERTY_SERVER_ADDR", ":7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("env override lost: %q", cfg.Server.Addr)
	}
	if cfg.Assistant.AssistantID != "asst_123" || cfg.Log.Level != "debug" {
		t.Fatalf("file values lost: %+v", cfg)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Log.Level = "shout"
	if _, err := cfg.NewLogger(); err == nil {
		t.Fatalf("expected level parse error")
	}
}
