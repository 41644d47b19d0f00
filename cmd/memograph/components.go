package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/embedding"
	"github.com/hyperjump/memograph/internal/graph"
	"github.com/hyperjump/memograph/internal/importer"
	"github.com/hyperjump/memograph/internal/keyword"
	"github.com/hyperjump/memograph/internal/search"
	"github.com/hyperjump/memograph/internal/similarity"
	"github.com/hyperjump/memograph/internal/storage"
	"github.com/hyperjump/memograph/internal/vectorizer"
)

// Components is the wired set of services behind every command.
type Components struct {
	Storage  *storage.SQLiteStorage
	Embedder embedding.Embedder
	Keyword  *keyword.BleveIndex
	Graph    *graph.Engine
	Search   *search.Engine
	Importer *importer.Importer
}

func (c *Components) Close() {
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// newEmbedder loads the ONNX model, falling back to the deterministic mock embedder
// when the model or runtime is unavailable.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) embedding.Embedder {
	onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
		ModelPath:  cfg.ModelPath,
		Dimensions: cfg.Dimensions,
		MaxTokens:  cfg.MaxTokens,
		CacheSize:  cfg.CacheSize,
	})
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embedder",
			zap.String("model_path", cfg.ModelPath), zap.Error(err))
		return embedding.NewMockEmbedder(cfg.Dimensions)
	}
	return onnx
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Embedder = embedding.NewLimitedEmbedder(newEmbedder(&cfg.Embedding, logger), cfg.Embedding.MaxConcurrency)
	if err := cfg.CheckEmbedderDimensions(c.Embedder.Dimensions()); err != nil {
		return nil, err
	}
	vec, err := vectorizer.New(c.Embedder, cfg.Embedding.Dimensions,
		vectorizer.WithTimeout(cfg.Embedding.Timeout),
		vectorizer.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vectorizer: %w", err)
	}
	index, err := similarity.NewFromConfig(&cfg.Similarity, similarity.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize similarity index: %w", err)
	}

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Keyword = kw

	c.Graph = graph.NewEngine(store, vec, index,
		graph.WithKeywordIndex(kw),
		graph.WithLogger(logger),
	)
	c.Search = search.NewEngine(kw, vec, store, c.Graph, &cfg.Search, search.WithLogger(logger))
	c.Importer = importer.New(c.Graph, &cfg.Import, importer.WithLogger(logger))

	logger.Info("components initialized",
		zap.String("database_path", cfg.Storage.DatabasePath),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Float64("threshold", index.Threshold()),
		zap.Int("limit", index.Limit()),
		zap.String("policy", index.Policy()),
	)
	ok = true
	return c, nil
}
