// Package config provides configuration loading for the sitechat service.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	StrategyFull     = "full"
	StrategySemantic = "semantic"
)

// Config holds all configuration for the service.
type Config struct {
	Server      ServerConfig  `yaml:"server"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	DataDir     string        `yaml:"data_dir"`
	OpenAI      OpenAIConfig  `yaml:"openai"`
	Site        SiteConfig    `yaml:"site"`
	Sources     SourcesConfig `yaml:"sources"`
	Context     ContextConfig `yaml:"context"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OpenAIConfig holds credentials and model settings for the remote API.
type OpenAIConfig struct {
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	ChatModel          string  `yaml:"chat_model"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	EmbeddingDimension int     `yaml:"embedding_dimension"`
	EmbeddingRPS       float64 `yaml:"embedding_rps"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float32 `yaml:"temperature"`
}

// SiteConfig describes the site the assistant answers questions about.
type SiteConfig struct {
	Name               string `yaml:"name"`
	Tagline            string `yaml:"tagline"`
	URL                string `yaml:"url"`
	Language           string `yaml:"language"`
	CustomInstructions string `yaml:"custom_instructions"`
}

// SourcesConfig lists the upstream content sources.
type SourcesConfig struct {
	WordPress []string `yaml:"wordpress"`
	LocalDir  string   `yaml:"local_dir"`
}

// ContextConfig controls retrieval, caching and the context token budget.
type ContextConfig struct {
	Strategy        string `yaml:"strategy"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	MaxTokens       int    `yaml:"max_tokens"`
	TopK            int    `yaml:"top_k"`
}

// Load reads the YAML config at path when it exists, applies defaults and
// clamps, then lets environment variables override the secrets. An empty path
// yields a default configuration driven entirely by the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.PostgresDSN = getEnv("SITECHAT_POSTGRES_DSN", cfg.PostgresDSN)

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults sets default values for any zero values in cfg and clamps
// out-of-range model settings.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "postgres://localhost:5432/sitechat?sslmode=disable"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.OpenAI.EmbeddingDimension == 0 {
		cfg.OpenAI.EmbeddingDimension = 1536
	}
	if cfg.OpenAI.EmbeddingRPS == 0 {
		cfg.OpenAI.EmbeddingRPS = 2
	}
	if cfg.OpenAI.EmbeddingRPS < 0 {
		cfg.OpenAI.EmbeddingRPS = 0
	}
	switch {
	case cfg.OpenAI.MaxTokens == 0:
		cfg.OpenAI.MaxTokens = 1000
	case cfg.OpenAI.MaxTokens < 100:
		cfg.OpenAI.MaxTokens = 100
	case cfg.OpenAI.MaxTokens > 4000:
		cfg.OpenAI.MaxTokens = 4000
	}
	switch {
	case cfg.OpenAI.Temperature == 0:
		cfg.OpenAI.Temperature = 0.7
	case cfg.OpenAI.Temperature < 0:
		cfg.OpenAI.Temperature = 0
	case cfg.OpenAI.Temperature > 2:
		cfg.OpenAI.Temperature = 2
	}
	if cfg.Site.Language == "" {
		cfg.Site.Language = "English"
	}
	if cfg.Context.Strategy == "" {
		cfg.Context.Strategy = StrategyFull
	}
	if cfg.Context.CacheTTLSeconds == 0 {
		cfg.Context.CacheTTLSeconds = 3600
	}
	if cfg.Context.CacheTTLSeconds < 0 {
		cfg.Context.CacheTTLSeconds = 0
	}
	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 4000
	}
	if cfg.Context.TopK < 1 {
		cfg.Context.TopK = 5
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
