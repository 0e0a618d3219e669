package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Judge      JudgeConfig      `mapstructure:"judge"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Mitigation MitigationConfig `mapstructure:"mitigation"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type JudgeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding an outbound client.
type BreakerConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxFailures int           `mapstructure:"max_failures"`
}

type SourceConfig struct {
	Name     string         `mapstructure:"name"`
	Type     string         `mapstructure:"type"`
	URL      string         `mapstructure:"url"`
	Interval time.Duration  `mapstructure:"interval"`
	Settings map[string]any `mapstructure:"settings"`
}

type ScannerConfig struct {
	Sources            []SourceConfig `mapstructure:"sources"`
	EnrichmentInterval time.Duration  `mapstructure:"enrichment_interval"`
	QueueSize          int            `mapstructure:"queue_size"`
}

type PolicyConfig struct {
	MinGenerationInterval time.Duration `mapstructure:"min_generation_interval"`
}

type ProbeConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	PromptsPerCycle int           `mapstructure:"prompts_per_cycle"`
	FollowUps       int           `mapstructure:"follow_ups"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type MitigationConfig struct {
	AutoBlockThreshold string `mapstructure:"auto_block_threshold"`
	AlertThreshold     string `mapstructure:"alert_threshold"`
	LearningEnabled    bool   `mapstructure:"learning_enabled"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file is fine, environment variables and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8089
	}
	if cfg.Judge.Model == "" {
		cfg.Judge.Model = "gpt-4o-mini"
	}
	if cfg.Judge.Breaker.Cooldown <= 0 {
		cfg.Judge.Breaker.Cooldown = time.Minute
	}
	if cfg.Judge.Breaker.MaxFailures <= 0 {
		cfg.Judge.Breaker.MaxFailures = 5
	}
	if cfg.Scanner.EnrichmentInterval <= 0 {
		cfg.Scanner.EnrichmentInterval = 10 * time.Second
	}
	if cfg.Scanner.QueueSize <= 0 {
		cfg.Scanner.QueueSize = 256
	}
	if cfg.Policy.MinGenerationInterval <= 0 {
		cfg.Policy.MinGenerationInterval = time.Minute
	}
	if cfg.Probe.Interval <= 0 {
		cfg.Probe.Interval = 30 * time.Minute
	}
	if cfg.Probe.PromptsPerCycle <= 0 {
		cfg.Probe.PromptsPerCycle = 20
	}
	if cfg.Probe.FollowUps <= 0 {
		cfg.Probe.FollowUps = 3
	}
	if cfg.Probe.Breaker.Cooldown <= 0 {
		cfg.Probe.Breaker.Cooldown = 30 * time.Second
	}
	if cfg.Probe.Breaker.MaxFailures <= 0 {
		cfg.Probe.Breaker.MaxFailures = 5
	}
	if cfg.Mitigation.AutoBlockThreshold == "" {
		cfg.Mitigation.AutoBlockThreshold = "HIGH_RISK"
	}
	if cfg.Mitigation.AlertThreshold == "" {
		cfg.Mitigation.AlertThreshold = "MEDIUM_RISK"
	}
}
