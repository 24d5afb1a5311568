// Package config loads dokufetch configuration from file and environment
// using viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for a dokufetch run.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Download DownloadConfig `mapstructure:"download"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServiceConfig describes the Dokumentlager service and the credentials for
// its login exchange. Credentials are typically supplied through the
// DOKUFETCH_SERVICE_USERNAME / DOKUFETCH_SERVICE_PASSWORD environment
// variables rather than the config file.
type ServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// DownloadConfig controls page staging.
type DownloadConfig struct {
	WorkDir         string        `mapstructure:"work_dir"`
	PageConcurrency int           `mapstructure:"page_concurrency"`
	PageTimeout     time.Duration `mapstructure:"page_timeout"`
}

// BatchConfig controls article-level processing.
type BatchConfig struct {
	OutputDir          string `mapstructure:"output_dir"`
	ArticleConcurrency int    `mapstructure:"article_concurrency"`
}

// ToolsConfig names the DjVuLibre binaries.
type ToolsConfig struct {
	Cjb2 string `mapstructure:"cjb2"`
	Djvm string `mapstructure:"djvm"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SetDefaults registers every configuration key with its default value so
// environment overrides are picked up during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.base_url", "https://dokumentlager.nordiskamuseet.se")
	v.SetDefault("service.username", "")
	v.SetDefault("service.password", "")
	v.SetDefault("service.user_agent", "dokufetch/0.1.0")
	v.SetDefault("service.timeout", 30*time.Second)
	v.SetDefault("service.retry_attempts", 3)
	v.SetDefault("service.initial_backoff", 1*time.Second)
	v.SetDefault("service.max_backoff", 30*time.Second)

	v.SetDefault("download.work_dir", "work")
	v.SetDefault("download.page_concurrency", 4)
	v.SetDefault("download.page_timeout", 2*time.Minute)

	v.SetDefault("batch.output_dir", "output")
	v.SetDefault("batch.article_concurrency", 2)

	v.SetDefault("tools.cjb2", "cjb2")
	v.SetDefault("tools.djvm", "djvm")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load applies defaults, unmarshals whatever v has read from file and
// environment, and validates the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings no run can proceed without.
func (c Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if c.Service.Username == "" {
		return fmt.Errorf("service.username is required (set DOKUFETCH_SERVICE_USERNAME)")
	}
	if c.Service.Password == "" {
		return fmt.Errorf("service.password is required (set DOKUFETCH_SERVICE_PASSWORD)")
	}
	if c.Download.PageConcurrency <= 0 {
		return fmt.Errorf("download.page_concurrency must be positive")
	}
	if c.Batch.ArticleConcurrency <= 0 {
		return fmt.Errorf("batch.article_concurrency must be positive")
	}
	return nil
}
