// Package config provides configuration loading and structs for the memograph server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Search     SearchConfig     `yaml:"search"`
	Import     ImportConfig     `yaml:"import"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and keyword index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	ModelPath string `yaml:"model_path"`
	// Dimensions must equal the embedder's output size.
	Dimensions int `yaml:"dimensions"`
	MaxTokens  int `yaml:"max_tokens"`
	CacheSize  int `yaml:"cache_size"`
	// MaxConcurrency bounds concurrent embedder calls (the model is a shared resource).
	MaxConcurrency int `yaml:"max_concurrency"`
	// Timeout applies to each vectorization call.
	Timeout time.Duration `yaml:"timeout"`
}

// Similarity scoring policies.
const (
	// PolicyMean compares the mean of paragraph vectors (the document vector).
	PolicyMean = "mean"
	// PolicyMaxParagraph compares every paragraph pair and keeps the best score.
	PolicyMaxParagraph = "max_paragraph"
)

// SimilarityConfig controls how the similarity graph is built.
type SimilarityConfig struct {
	// Threshold is the minimum cosine similarity for an edge. Nil means the default (0.6).
	Threshold *float64 `yaml:"threshold"`
	// Limit bounds the number of edges written per refresh.
	Limit  int    `yaml:"limit"`
	Policy string `yaml:"policy"`
	// GraphLimit is the default edge cap for graph snapshots; 0 means no cap.
	GraphLimit int `yaml:"graph_limit"`
}

// ThresholdOrDefault returns the configured threshold, or DefaultThreshold when unset.
func (s *SimilarityConfig) ThresholdOrDefault() float64 {
	if s.Threshold != nil {
		return *s.Threshold
	}
	return DefaultThreshold
}

// SearchConfig holds note search settings.
type SearchConfig struct {
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// ImportConfig holds settings for importing notes from files.
type ImportConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to walk and watch recursively; defaults to true when unset.
func (i *ImportConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// TracingConfig configures OpenTelemetry trace export. Tracing is off when Endpoint is empty.
type TracingConfig struct {
	// Endpoint is an OTLP gRPC collector address such as "localhost:4317".
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Load reads and parses the config file at path, expands paths, applies defaults, and validates.
// Returns an error if the file cannot be read or parsed, or if a value is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Import.Directories {
		cfg.Import.Directories[i] = expandPath(cfg.Import.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. ":memory:" is kept as-is.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
