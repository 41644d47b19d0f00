// Package vectorizer turns note content into paragraph vectors and a document vector.
package vectorizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/embedding"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/vector"
)

// DefaultTimeout bounds one batched embedding call.
const DefaultTimeout = 30 * time.Second

// Vectorization is the derived vector state of one piece of content.
type Vectorization struct {
	Paragraphs     []*models.ParagraphVector
	DocumentVector []float32
}

// Vectorizer splits content into paragraphs, embeds them in one batch, and averages them.
type Vectorizer struct {
	embedder   embedding.Embedder
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Vectorizer.
type Option func(*Vectorizer)

// WithTimeout sets the deadline of each embedding batch. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(v *Vectorizer) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vectorizer) { v.logger = l }
}

// New returns a Vectorizer producing vectors of the given dimensions.
// It fails with models.ErrConfiguration when the embedder disagrees about dimensions.
func New(embedder embedding.Embedder, dimensions int, opts ...Option) (*Vectorizer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedder", models.ErrConfiguration)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", models.ErrConfiguration, dimensions)
	}
	if got := embedder.Dimensions(); got != dimensions {
		return nil, fmt.Errorf("%w: embedder produces %d-dimensional vectors, configured %d",
			models.ErrConfiguration, got, dimensions)
	}
	v := &Vectorizer{
		embedder:   embedder,
		dimensions: dimensions,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Dimensions returns the vector dimension D.
func (v *Vectorizer) Dimensions() int {
	return v.dimensions
}

// Vectorize embeds every paragraph of content. It returns models.ErrEmptyContent when
// content has no paragraphs and models.ErrEmbedding when the embedder fails, times out,
// or returns vectors of the wrong shape. Nothing is persisted.
func (v *Vectorizer) Vectorize(ctx context.Context, content string) (*Vectorization, error) {
	paragraphs := SplitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil, models.ErrEmptyContent
	}

	vecs, err := v.embedBatch(ctx, paragraphs)
	if err != nil {
		return nil, err
	}

	out := &Vectorization{Paragraphs: make([]*models.ParagraphVector, len(paragraphs))}
	for i, p := range paragraphs {
		out.Paragraphs[i] = &models.ParagraphVector{ParagraphIndex: i, Content: p, Vector: vecs[i]}
	}
	out.DocumentVector, err = vector.Mean(vecs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	v.logger.Debug("vectorized content", zap.Int("paragraphs", len(paragraphs)))
	return out, nil
}

// EmbedQuery embeds a single search query.
func (v *Vectorizer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := v.embedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (v *Vectorizer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	vecs, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", models.ErrEmbedding, v.timeout)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", models.ErrEmbedding, len(vecs), len(texts))
	}
	for i, vec := range vecs {
		if len(vec) != v.dimensions {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", models.ErrEmbedding, i, len(vec), v.dimensions)
		}
	}
	return vecs, nil
}
