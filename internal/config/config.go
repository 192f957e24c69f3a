// Package config loads the pipeline configuration from a file and the
// LIBERTY_* environment, environment winning.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full server/client configuration tree.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Assistant struct {
		APIKey      string        `mapstructure:"api_key"`
		Endpoint    string        `mapstructure:"endpoint"`
		AssistantID string        `mapstructure:"assistant_id"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"assistant"`

	Orchestrator struct {
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		PollTimeout     time.Duration `mapstructure:"poll_timeout"`
		DeltaChunkRunes int           `mapstructure:"delta_chunk_runes"`
	} `mapstructure:"orchestrator"`

	TTS struct {
		Standard string `mapstructure:"standard"`
		Premium  string `mapstructure:"premium"`
	} `mapstructure:"tts"`

	Ledger struct {
		BaseURL       string        `mapstructure:"base_url"`
		APIKey        string        `mapstructure:"api_key"`
		QueueCapacity int           `mapstructure:"queue_capacity"`
		WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"ledger"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Load reads path (optional) and the environment into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIBERTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.assistant_id", "")
	v.SetDefault("assistant.endpoint", "https://api.openai.com/v1")
	v.SetDefault("assistant.timeout", 30*time.Second)
	v.SetDefault("orchestrator.poll_interval", time.Second)
	v.SetDefault("orchestrator.poll_timeout", 60*time.Second)
	v.SetDefault("orchestrator.delta_chunk_runes", 120)
	v.SetDefault("tts.standard", "polly")
	v.SetDefault("tts.premium", "elevenlabs")
	v.SetDefault("ledger.base_url", "")
	v.SetDefault("ledger.api_key", "")
	v.SetDefault("ledger.queue_capacity", 256)
	v.SetDefault("ledger.write_timeout", 2*time.Second)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Log.Level, err)
	}
	zapCfg := zap.NewProductionConfig()
	if c.Log.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
