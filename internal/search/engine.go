package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/keyword"
	"github.com/hyperjump/memograph/internal/models"
)

// QueryEmbedder embeds a search query into the note vector space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorScorer ranks vectorized notes by cosine similarity to a vector.
type VectorScorer interface {
	ScoreVector(ctx context.Context, v []float32, limit int) ([]models.Candidate, error)
}

// NoteLookup resolves note IDs to summaries.
type NoteLookup interface {
	Summaries(ctx context.Context, ids []int64) (map[int64]*models.NoteSummary, error)
}

// Engine runs hybrid (keyword + semantic) note search.
type Engine struct {
	keywordIndex keyword.KeywordIndex
	embedder     QueryEmbedder
	scorer       VectorScorer
	notes        NoteLookup
	config       *config.SearchConfig
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	keywordIndex keyword.KeywordIndex,
	embedder QueryEmbedder,
	scorer VectorScorer,
	notes NoteLookup,
	cfg *config.SearchConfig,
	opts ...Option,
) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
	}
	e := &Engine{
		keywordIndex: keywordIndex,
		embedder:     embedder,
		scorer:       scorer,
		notes:        notes,
		config:       cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) topK() int {
	if e.config.TopKCandidates > 0 {
		return e.config.TopKCandidates
	}
	return 100
}

// Search runs keyword and semantic retrieval concurrently and fuses their normalized scores.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []models.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	if query.KeywordWeight > 0 && e.keywordIndex != nil {
		g.Go(func() error {
			results, err := e.keywordIndex.Search(gctx, query.Query, e.topK(), &keyword.SearchOptions{TitleBoost: 2})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if query.SemanticWeight > 0 {
		g.Go(func() error {
			queryEmbedding, err := e.embedder.EmbedQuery(gctx, query.Query)
			if err != nil {
				return err
			}
			results, err := e.scorer.ScoreVector(gctx, queryEmbedding, e.topK())
			if err != nil {
				return fmt.Errorf("semantic search failed: %w", err)
			}
			semanticResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(
		NormalizeKeywordScores(keywordResults),
		NormalizeSemanticScores(semanticResults),
		query.KeywordWeight, query.SemanticWeight,
	)
	if query.MinScore > 0 {
		filtered := fused[:0]
		for _, r := range fused {
			if r.Score >= query.MinScore {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	page := fused
	if len(page) > query.Limit {
		page = page[:query.Limit]
	}
	ids := make([]int64, len(page))
	for i, r := range page {
		ids[i] = r.NoteID
	}
	summaries, err := e.notes.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(page)),
		Total:   len(fused),
		Query:   query.Query,
	}
	for _, r := range page {
		note, ok := summaries[r.NoteID]
		if !ok {
			// Deleted between retrieval and lookup.
			continue
		}
		response.Results = append(response.Results, &models.SearchResult{
			Note:          note,
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Rank:          len(response.Results) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search",
		zap.String("query", query.Query),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("results", len(response.Results)))
	return response, nil
}
