package config

import (
	"fmt"

	"github.com/hyperjump/memograph/internal/models"
)

// Validate checks values the similarity engine cannot run with.
// All failures wrap models.ErrConfiguration; the process must not start serving.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive, got %d", models.ErrConfiguration, c.Embedding.Dimensions)
	}
	if c.Embedding.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: embedding.max_concurrency must be positive, got %d", models.ErrConfiguration, c.Embedding.MaxConcurrency)
	}
	if c.Embedding.Timeout < 0 {
		return fmt.Errorf("%w: embedding.timeout must not be negative", models.ErrConfiguration)
	}
	if t := c.Similarity.ThresholdOrDefault(); t < -1 || t > 1 {
		return fmt.Errorf("%w: similarity.threshold must be in [-1, 1], got %v", models.ErrConfiguration, t)
	}
	if c.Similarity.Limit <= 0 {
		return fmt.Errorf("%w: similarity.limit must be positive, got %d", models.ErrConfiguration, c.Similarity.Limit)
	}
	switch c.Similarity.Policy {
	case PolicyMean, PolicyMaxParagraph:
	default:
		return fmt.Errorf("%w: similarity.policy must be %q or %q, got %q",
			models.ErrConfiguration, PolicyMean, PolicyMaxParagraph, c.Similarity.Policy)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate must be in [0, 1], got %v", models.ErrConfiguration, c.Tracing.SampleRate)
	}
	if c.Similarity.GraphLimit < 0 {
		return fmt.Errorf("%w: similarity.graph_limit must not be negative", models.ErrConfiguration)
	}
	return nil
}

// CheckEmbedderDimensions returns a configuration error when the embedder's output size
// differs from embedding.dimensions.
func (c *Config) CheckEmbedderDimensions(actual int) error {
	if actual != c.Embedding.Dimensions {
		return fmt.Errorf("%w: embedder produces %d dimensions, embedding.dimensions is %d",
			models.ErrConfiguration, actual, c.Embedding.Dimensions)
	}
	return nil
}
