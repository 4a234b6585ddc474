package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := LoadConfig()
	if cfg.DBPath != "./exportgate.db" {
		t.Errorf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.PermitFileDir != "./permits" {
		t.Errorf("unexpected default permit dir %q", cfg.PermitFileDir)
	}
	if cfg.EmbeddingProvider != "openai" || cfg.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("unexpected embedding defaults %q/%q", cfg.EmbeddingProvider, cfg.EmbeddingModel)
	}
	if cfg.EmbeddingDim != 1536 || cfg.EmbeddingRetries != 2 {
		t.Errorf("unexpected embedding tuning %d/%d", cfg.EmbeddingDim, cfg.EmbeddingRetries)
	}
	if cfg.Location == nil {
		t.Error("expected resolved location")
	}
	if cfg.SlackConfigured() {
		t.Error("Slack must not be configured by default")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	writeConfigFile(t, `db_path: /data/gate.db
embedding_provider: none
sweep_schedule: "0 3 * * *"
timezone: UTC
slack_bot_token: xoxb-test
slack_app_token: xapp-test
`)

	cfg := LoadConfig()
	if cfg.DBPath != "/data/gate.db" {
		t.Errorf("unexpected db path %q", cfg.DBPath)
	}
	if cfg.EmbeddingProvider != "none" {
		t.Errorf("unexpected provider %q", cfg.EmbeddingProvider)
	}
	if cfg.SweepSchedule != "0 3 * * *" {
		t.Errorf("unexpected schedule %q", cfg.SweepSchedule)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Errorf("unexpected location %v", cfg.Location)
	}
	if !cfg.SlackConfigured() {
		t.Error("expected Slack configured with both tokens")
	}
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	writeConfigFile(t, `db_path: /data/from-yaml.db
embedding_dim: 512
`)
	t.Setenv("DB_PATH", "/data/from-env.db")
	t.Setenv("EMBEDDING_DIM", "256")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := LoadConfig()
	if cfg.DBPath != "/data/from-env.db" {
		t.Errorf("env must win over yaml, got %q", cfg.DBPath)
	}
	if cfg.EmbeddingDim != 256 {
		t.Errorf("env must win over yaml, got %d", cfg.EmbeddingDim)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Errorf("unexpected api key %q", cfg.OpenAIAPIKey)
	}
}
