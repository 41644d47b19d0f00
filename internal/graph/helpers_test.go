package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/similarity"
	"github.com/hyperjump/memograph/internal/storage"
	"github.com/hyperjump/memograph/internal/vectorizer"
)

const testDims = 4

// tableEmbedder maps each paragraph to a fixed vector. Unknown paragraphs and paragraphs
// listed in failing produce errors.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failing map[string]bool
	calls   int
}

func newTableEmbedder() *tableEmbedder {
	return &tableEmbedder{
		vectors: map[string][]float32{
			"alpha":  {1, 0, 0, 0},
			"alpha2": {1, 0.1, 0, 0},
			"alpha3": {1, 0.5, 0, 0},
			"alpha4": {1, 0.2, 0, 0},
			"beta":   {0, 0, 1, 0},
			"gamma":  {0, 0, 0, 1},
		},
		failing: map[string]bool{},
	}
}

func (t *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := t.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (t *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if t.failing[text] {
			return nil, fmt.Errorf("model unavailable for %q", text)
		}
		v, ok := t.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no test vector for %q", text)
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func (t *tableEmbedder) fail(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing[text] = true
}

func (t *tableEmbedder) set(text string, v []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[text] = v
}

func (t *tableEmbedder) Dimensions() int { return testDims }
func (t *tableEmbedder) Close() error    { return nil }

type fixture struct {
	engine   *Engine
	store    *storage.SQLiteStorage
	embedder *tableEmbedder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, 0.6, 8, opts...)
}

func newFixtureWith(t *testing.T, threshold float64, limit int, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := newTableEmbedder()
	vec, err := vectorizer.New(emb, testDims, vectorizer.WithTimeout(time.Second))
	require.NoError(t, err)
	ix, err := similarity.New(threshold, limit, "")
	require.NoError(t, err)
	return &fixture{engine: NewEngine(store, vec, ix, opts...), store: store, embedder: emb}
}

func (f *fixture) create(t *testing.T, title, content string) *models.Note {
	t.Helper()
	n, err := f.engine.CreateNote(context.Background(), models.NoteInput{Title: title, Content: content})
	require.NoError(t, err)
	return n
}

func (f *fixture) allEdges(t *testing.T) []*models.SimilarityEdge {
	t.Helper()
	edges, err := f.store.TopEdges(context.Background(), 0)
	require.NoError(t, err)
	return edges
}

func ptr[T any](v T) *T { return &v }
