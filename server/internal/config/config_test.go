package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadMissingFileUsesDefaults 验证配置文件缺失时使用默认值。
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("expected default port 8090, got %d", cfg.Server.Port)
	}
	if got := cfg.Clock.Preset(); got != len(cfg.Clock.Presets)-1 {
		t.Fatalf("expected fastest preset by default, got %d", got)
	}
	if cfg.Chat.FaceToFace.PauseBase != 1500*time.Millisecond || cfg.Chat.Remote.PauseBase != 800*time.Millisecond {
		t.Fatalf("unexpected pacing defaults: %+v", cfg.Chat)
	}
	if cfg.Clock.StartTime().Day != 5 || cfg.Clock.StartTime().Hour != 10 {
		t.Fatalf("unexpected start time: %+v", cfg.Clock.StartTime())
	}
}

// TestLoadYAMLAndEnvOverride 验证 YAML 解析与环境变量覆盖顺序。
func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
persona:
  name: 阿澈
clock:
  preset_index: 0
  schedule_settle: 500ms
chat:
  bubble_linger: 3s
storage:
  backend: memory
`)
	t.Setenv("COMPANION_PORT", "9100")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_MODEL", "claude-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env should override yaml port, got %d", cfg.Server.Port)
	}
	if cfg.Persona.Name != "阿澈" {
		t.Fatalf("unexpected persona: %+v", cfg.Persona)
	}
	if cfg.Clock.Preset() != 0 || cfg.Clock.ScheduleSettle != 500*time.Millisecond {
		t.Fatalf("unexpected clock config: %+v", cfg.Clock)
	}
	if cfg.Chat.BubbleLinger != 3*time.Second {
		t.Fatalf("unexpected linger: %v", cfg.Chat.BubbleLinger)
	}
	if cfg.ActiveLLM().Model != "claude-test" {
		t.Fatalf("expected LLM_MODEL applied to anthropic, got %+v", cfg.ActiveLLM())
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
}

// TestValidate 覆盖各类非法配置。
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"preset out of range", func(c *Config) { idx := 9; c.Clock.PresetIndex = &idx }, "preset_index"},
		{"bad start day", func(c *Config) { c.Clock.StartDay = 8 }, "start_day"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "gemini" }, "provider"},
		{"bad storage", func(c *Config) { c.Storage.Backend = "redis" }, "storage"},
		{"tts without key", func(c *Config) { c.TTS.Enabled = true; c.TTS.APIKey = "" }, "TTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := &Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
