package config

import "time"

// Defaults for the similarity graph.
const (
	DefaultThreshold  = 0.6
	DefaultLimit      = 8
	DefaultDimensions = 512
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/memograph/data/app.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/memograph/data/indices/bleve"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/memograph/data/models/universal-sentence-encoder.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxConcurrency == 0 {
		cfg.Embedding.MaxConcurrency = 1
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Similarity.Threshold == nil {
		t := DefaultThreshold
		cfg.Similarity.Threshold = &t
	}
	if cfg.Similarity.Limit == 0 {
		cfg.Similarity.Limit = DefaultLimit
	}
	if cfg.Similarity.Policy == "" {
		cfg.Similarity.Policy = PolicyMean
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 100
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.5
		cfg.Search.SemanticWeight = 0.5
	}
	if cfg.Import.Extensions == nil {
		cfg.Import.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx"}
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "memograph"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Import.Directories) > 0 && cfg.Import.Recursive == nil {
		t := true
		cfg.Import.Recursive = &t
	}
}
