package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/memograph/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
similarity:
  threshold: 0.55
  limit: 5
embedding:
  timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Similarity.ThresholdOrDefault() != 0.55 || cfg.Similarity.Limit != 5 {
		t.Errorf("similarity: got threshold %v limit %d", cfg.Similarity.ThresholdOrDefault(), cfg.Similarity.Limit)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("timeout: got %v", cfg.Embedding.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_zeroThresholdIsKept(t *testing.T) {
	path := writeConfig(t, `
similarity:
  threshold: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Similarity.ThresholdOrDefault(); got != 0 {
		t.Errorf("explicit zero threshold should be kept, got %v", got)
	}
}

func TestLoad_invalidValuesAreConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"threshold above one", "similarity:\n  threshold: 1.5\n"},
		{"negative limit", "similarity:\n  limit: -2\n"},
		{"unknown policy", "similarity:\n  policy: median\n"},
		{"negative dimensions", "embedding:\n  dimensions: -1\n"},
		{"sample rate above one", "tracing:\n  sample_rate: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("want ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/app.db"
import:
  directories: ["./notes"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "app.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Import.Directories) != 1 || cfg.Import.Directories[0] != filepath.Join(dir, "notes") {
		t.Errorf("import directories: got %v", cfg.Import.Directories)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 3000 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Embedding.Dimensions != 512 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.MaxConcurrency != 1 {
		t.Errorf("default max_concurrency: got %d", cfg.Embedding.MaxConcurrency)
	}
	if cfg.Similarity.ThresholdOrDefault() != DefaultThreshold || cfg.Similarity.Limit != DefaultLimit {
		t.Errorf("default similarity: got %+v", cfg.Similarity)
	}
	if cfg.Similarity.Policy != PolicyMean {
		t.Errorf("default policy: got %s", cfg.Similarity.Policy)
	}
	if cfg.Search.KeywordWeight != 0.5 || cfg.Search.SemanticWeight != 0.5 {
		t.Errorf("default weights: got %v/%v", cfg.Search.KeywordWeight, cfg.Search.SemanticWeight)
	}
	if cfg.Tracing.ServiceName != "memograph" || cfg.Tracing.SampleRate != 1 || cfg.Tracing.Endpoint != "" {
		t.Errorf("default tracing: got %+v", cfg.Tracing)
	}
	if len(cfg.Import.Extensions) != 7 || cfg.Import.Extensions[0] != ".txt" {
		t.Errorf("import extensions: got %v", cfg.Import.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestImportConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		i := &ImportConfig{}
		if !i.RecursiveOrDefault() {
			t.Error("RecursiveOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		i := &ImportConfig{Recursive: &f}
		if i.RecursiveOrDefault() {
			t.Error("RecursiveOrDefault() = true, want false")
		}
	})
}

func TestCheckEmbedderDimensions(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := cfg.CheckEmbedderDimensions(512); err != nil {
		t.Errorf("matching dimensions: %v", err)
	}
	if err := cfg.CheckEmbedderDimensions(384); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("mismatch: want ErrConfiguration, got %v", err)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Embedding.Timeout != cfg.Embedding.Timeout {
		t.Errorf("timeout round trip: got %v, want %v", loaded.Embedding.Timeout, cfg.Embedding.Timeout)
	}
}
