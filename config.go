package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath        string `yaml:"db_path"`
	PermitFileDir string `yaml:"permit_file_dir"`

	CatalogPath string `yaml:"catalog_path"`
	RulesetPath string `yaml:"ruleset_path"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`
	EmbeddingDim      int    `yaml:"embedding_dim"`
	EmbeddingRetries  int    `yaml:"embedding_retries"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`

	ReviewBriefEnabled bool   `yaml:"review_brief_enabled"`
	ReviewBriefModel   string `yaml:"review_brief_model"`
	AnthropicAPIKey    string `yaml:"anthropic_api_key"`

	SlackBotToken      string `yaml:"slack_bot_token"`
	SlackAppToken      string `yaml:"slack_app_token"`
	ComplianceChannelID string `yaml:"compliance_channel_id"`

	SweepSchedule string `yaml:"sweep_schedule"`
	Timezone      string `yaml:"timezone"`

	Location *time.Location `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.PermitFileDir, "PERMIT_FILE_DIR")
	envOverride(&cfg.CatalogPath, "CATALOG_PATH")
	envOverride(&cfg.RulesetPath, "RULESET_PATH")
	envOverride(&cfg.EmbeddingProvider, "EMBEDDING_PROVIDER")
	envOverride(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	envOverrideInt(&cfg.EmbeddingDim, "EMBEDDING_DIM")
	envOverrideInt(&cfg.EmbeddingRetries, "EMBEDDING_RETRIES")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.ReviewBriefModel, "REVIEW_BRIEF_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ComplianceChannelID, "COMPLIANCE_CHANNEL_ID")
	envOverride(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./exportgate.db"
	}
	if cfg.PermitFileDir == "" {
		cfg.PermitFileDir = "./permits"
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "openai"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if cfg.EmbeddingRetries == 0 {
		cfg.EmbeddingRetries = 2
	}
	if cfg.ReviewBriefModel == "" {
		cfg.ReviewBriefModel = defaultAnthropicModel
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Println("openai_api_key not set: semantic detection layers will degrade to no-match")
		}
	case "none":
		// exact-match and tech-spec layers only
	default:
		log.Fatalf("embedding_provider must be 'openai' or 'none', got '%s'", cfg.EmbeddingProvider)
	}
	if cfg.ReviewBriefEnabled && cfg.AnthropicAPIKey == "" {
		log.Fatalf("anthropic_api_key is required when review_brief_enabled=true")
	}
	if cfg.EmbeddingDim < 1 {
		log.Fatalf("invalid embedding_dim '%d': must be >= 1", cfg.EmbeddingDim)
	}
	if cfg.EmbeddingRetries < 0 {
		log.Fatalf("invalid embedding_retries '%d': must be >= 0", cfg.EmbeddingRetries)
	}

	if cfg.Timezone == "Local" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
