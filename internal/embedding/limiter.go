package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// LimitedEmbedder bounds the number of in-flight calls to a shared embedder.
// A call whose context ends while waiting for a slot, or while the inner embedder is
// still running, returns the context error immediately; the slot is released only when
// the inner call actually finishes.
type LimitedEmbedder struct {
	inner Embedder
	sem   *semaphore.Weighted
}

// NewLimitedEmbedder wraps inner so that at most maxConcurrent calls run at once.
func NewLimitedEmbedder(inner Embedder, maxConcurrent int) *LimitedEmbedder {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &LimitedEmbedder{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

type batchResult struct {
	vectors [][]float32
	err     error
}

// Embed embeds a single text.
func (l *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := l.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one inner call once a slot is available.
func (l *LimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for embedder: %w", err)
	}
	done := make(chan batchResult, 1)
	go func() {
		defer l.sem.Release(1)
		vecs, err := l.inner.EmbedBatch(ctx, texts)
		done <- batchResult{vectors: vecs, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.vectors) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(res.vectors), len(texts))
		}
		return res.vectors, nil
	}
}

// Dimensions returns the inner embedder's dimension.
func (l *LimitedEmbedder) Dimensions() int {
	return l.inner.Dimensions()
}

// Close closes the inner embedder.
func (l *LimitedEmbedder) Close() error {
	return l.inner.Close()
}
