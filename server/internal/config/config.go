package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pocket-companion/server/internal/model"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Persona  PersonaConfig  `yaml:"persona"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Clock    ClockConfig    `yaml:"clock"`
	Chat     ChatConfig     `yaml:"chat"`
	Presence PresenceConfig `yaml:"presence"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" env:"COMPANION_HOST"`
	Port           int           `yaml:"port" env:"COMPANION_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"COMPANION_ALLOWED_ORIGINS" envSeparator:","`
	StaticDir      string        `yaml:"static_dir" env:"COMPANION_STATIC_DIR"`
}

// PersonaConfig 首次启动（没有存档）时使用的默认角色。
type PersonaConfig struct {
	Name    string `yaml:"name"`
	Prompt  string `yaml:"prompt"`
	VoiceID string `yaml:"voice_id" env:"COMPANION_VOICE_ID"`
}

// LLMConfig 生成作息/回复/突发事件所用的 LLM 配置
type LLMConfig struct {
	Provider  string            `yaml:"provider" env:"LLM_PROVIDER"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
	// RateLimit 每秒最多发起的 LLM 调用数，0 表示不限。
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIURL      string        `yaml:"api_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TTSConfig MiniMax 语音合成配置
type TTSConfig struct {
	Enabled    bool    `yaml:"enabled" env:"TTS_ENABLED"`
	APIKey     string  `yaml:"api_key" env:"TTS_API_KEY"`
	URL        string  `yaml:"url" env:"TTS_WS_URL"`
	Model      string  `yaml:"model" env:"TTS_MODEL"`
	Speed      float64 `yaml:"speed"`
	SampleRate int     `yaml:"sample_rate"`
	Bitrate    int     `yaml:"bitrate"`
}

type ClockConfig struct {
	StartDay    int                 `yaml:"start_day"`
	StartHour   int                 `yaml:"start_hour"`
	StartMinute int                 `yaml:"start_minute"`
	PresetIndex *int                `yaml:"preset_index" env:"COMPANION_SPEED"`
	Presets     []model.SpeedPreset `yaml:"presets"`
	// EventProbability 每逢整点触发突发事件的概率。
	EventProbability float64 `yaml:"event_probability"`
	// ScheduleSettle 作息生成后延迟多久再应用状态，让玩家至少能看角色一眼。
	ScheduleSettle time.Duration `yaml:"schedule_settle"`
}

// Preset 返回生效的流速下标，未设置时为 -1。
func (c ClockConfig) Preset() int {
	if c.PresetIndex == nil {
		return -1
	}
	return *c.PresetIndex
}

// StartTime 返回配置的虚拟起始时间。
func (c ClockConfig) StartTime() model.SimTime {
	return model.SimTime{Day: c.StartDay, Hour: c.StartHour, Minute: c.StartMinute}
}

// PacingConfig 连发消息的停顿：base + 字数 * per_char。
type PacingConfig struct {
	PauseBase    time.Duration `yaml:"pause_base"`
	PausePerChar time.Duration `yaml:"pause_per_char"`
}

type ChatConfig struct {
	HistoryWindow  int           `yaml:"history_window"`
	NetworkLatency time.Duration `yaml:"network_latency"`
	TypingWindow   time.Duration `yaml:"typing_window"`
	LongWait       time.Duration `yaml:"long_wait"`
	FaceToFace     PacingConfig  `yaml:"face_to_face"`
	Remote         PacingConfig  `yaml:"remote"`
	BubbleLinger   time.Duration `yaml:"bubble_linger"`
	Voice          bool          `yaml:"voice"`
}

type PresenceConfig struct {
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" env:"COMPANION_STORAGE"` // "memory" or "file"
	Path    string `yaml:"path" env:"COMPANION_STORAGE_PATH"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Verbose 是否输出组件级调试日志。
func (l LoggingConfig) Verbose() bool {
	return l.Level == "debug"
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load 从文件加载配置
// 顺序：YAML 文件 -> .env -> 环境变量覆盖 -> 默认值 -> 校验。
func Load(path string) (*Config, error) {
	fmt.Printf("📋 Loading config from: %s\n", path)

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		fmt.Printf("✅ Config parsed successfully (%d bytes)\n", len(data))
	case errors.Is(err, os.ErrNotExist):
		fmt.Printf("⚠️  Config file not found, using defaults\n")
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// .env 可选，缺失时直接使用系统环境变量
	if err := godotenv.Load(); err == nil {
		fmt.Printf("🔑 Loaded .env file\n")
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyLLMKeyOverrides(cfg)
	cfg.ApplyDefaults()

	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s\n", cfg.Server.Addr())
	fmt.Printf("   LLM: provider=%s model=%s\n", cfg.LLM.Provider, cfg.ActiveLLM().Model)
	fmt.Printf("   TTS: enabled=%v model=%s\n", cfg.TTS.Enabled, cfg.TTS.Model)
	fmt.Printf("   Speed preset: %d\n", cfg.Clock.Preset())
	fmt.Printf("   Storage: %s %s\n\n", cfg.Storage.Backend, cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	fmt.Printf("✅ Config validation passed\n\n")

	return cfg, nil
}

// applyLLMKeyOverrides 把通用 LLM_* 环境变量写到当前 provider 上。
func applyLLMKeyOverrides(cfg *Config) {
	target := &cfg.LLM.OpenAI
	if cfg.LLM.Provider == "anthropic" {
		target = &cfg.LLM.Anthropic
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		target.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		target.APIURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		target.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
}

// ActiveLLM 返回当前 provider 的配置。
func (c *Config) ActiveLLM() LLMProviderConfig {
	if c.LLM.Provider == "anthropic" {
		return c.LLM.Anthropic
	}
	return c.LLM.OpenAI
}

// ApplyDefaults 为未配置的字段补默认值。
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = 30 * time.Second
	}

	if c.Persona.Name == "" {
		c.Persona.Name = "保镖小哥"
	}
	if c.Persona.Prompt == "" {
		c.Persona.Prompt = "冷酷但内心温柔的保镖，话不多但偶尔会吐槽"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIURL == "" {
		c.LLM.OpenAI.APIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "deepseek-v3"
	}
	if c.LLM.Anthropic.APIURL == "" {
		c.LLM.Anthropic.APIURL = "https://api.anthropic.com/v1"
	}
	for _, p := range []*LLMProviderConfig{&c.LLM.OpenAI, &c.LLM.Anthropic} {
		if p.Temperature == 0 {
			p.Temperature = 0.8
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 1024
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
	}
	if c.LLM.RateBurst == 0 {
		c.LLM.RateBurst = 1
	}

	if c.TTS.URL == "" {
		c.TTS.URL = "wss://api.minimaxi.com/ws/v1/t2a_v2"
	}
	if c.TTS.Model == "" {
		c.TTS.Model = "speech-2.6-hd"
	}
	if c.TTS.Speed == 0 {
		c.TTS.Speed = 1.0
	}
	if c.TTS.SampleRate == 0 {
		c.TTS.SampleRate = 32000
	}
	if c.TTS.Bitrate == 0 {
		c.TTS.Bitrate = 128000
	}

	if len(c.Clock.Presets) == 0 {
		c.Clock.Presets = model.DefaultSpeedPresets()
	}
	if c.Clock.PresetIndex == nil {
		// 默认最快的测试流速
		idx := len(c.Clock.Presets) - 1
		c.Clock.PresetIndex = &idx
	}
	if c.Clock.StartDay == 0 {
		// 默认周五 10:00 开始
		c.Clock.StartDay = 5
		c.Clock.StartHour = 10
	}
	if c.Clock.EventProbability == 0 {
		c.Clock.EventProbability = 0.15
	}
	if c.Clock.ScheduleSettle == 0 {
		c.Clock.ScheduleSettle = 2 * time.Second
	}

	if c.Chat.HistoryWindow == 0 {
		c.Chat.HistoryWindow = 5
	}
	if c.Chat.NetworkLatency == 0 {
		c.Chat.NetworkLatency = 1500 * time.Millisecond
	}
	if c.Chat.TypingWindow == 0 {
		c.Chat.TypingWindow = 15 * time.Second
	}
	if c.Chat.LongWait == 0 {
		c.Chat.LongWait = 30 * time.Second
	}
	if c.Chat.FaceToFace == (PacingConfig{}) {
		c.Chat.FaceToFace = PacingConfig{PauseBase: 1500 * time.Millisecond, PausePerChar: 100 * time.Millisecond}
	}
	if c.Chat.Remote == (PacingConfig{}) {
		c.Chat.Remote = PacingConfig{PauseBase: 800 * time.Millisecond}
	}
	if c.Chat.BubbleLinger == 0 {
		c.Chat.BubbleLinger = 8 * time.Second
	}

	if c.Presence.IdleThreshold == 0 {
		c.Presence.IdleThreshold = 3 * time.Minute
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/companion.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if idx := c.Clock.Preset(); idx < 0 || idx >= len(c.Clock.Presets) {
		return fmt.Errorf("clock.preset_index %d out of range [0,%d)", idx, len(c.Clock.Presets))
	}
	for i, p := range c.Clock.Presets {
		if p.StepMinutes <= 0 || p.IntervalMs <= 0 {
			return fmt.Errorf("clock.presets[%d]: step_minutes and interval_ms must be positive", i)
		}
	}
	if c.Clock.StartDay < 1 || c.Clock.StartDay > model.DaysPerWeek {
		return fmt.Errorf("clock.start_day must be in 1..7, got %d", c.Clock.StartDay)
	}
	if c.Clock.StartHour < 0 || c.Clock.StartHour > 23 || c.Clock.StartMinute < 0 || c.Clock.StartMinute > 59 {
		return fmt.Errorf("clock start time %02d:%02d invalid", c.Clock.StartHour, c.Clock.StartMinute)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	switch c.Storage.Backend {
	case "memory", "file":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.TTS.Enabled && c.TTS.APIKey == "" {
		return fmt.Errorf("TTS api key is required when tts.enabled (set TTS_API_KEY)")
	}
	return nil
}
