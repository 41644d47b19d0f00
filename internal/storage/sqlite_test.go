package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/vector"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertVectorized(t *testing.T, s *SQLiteStorage, title string, v []float32) *models.Note {
	t.Helper()
	n := &models.Note{Title: title, Content: title, CreatedDate: "2024-01-02", DocumentVector: vector.Zero(len(v))}
	ctx := context.Background()
	if err := s.InsertNote(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceParagraphVectors(ctx, n.ID, []*models.ParagraphVector{{ParagraphIndex: 0, Content: title, Vector: v}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDocumentVector(ctx, n.ID, v, models.StatusVectorized); err != nil {
		t.Fatal(err)
	}
	return n
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestSQLiteStorage_fileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notes.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	n := &models.Note{Title: "T", Content: "C", CreatedDate: "2024-01-01", DocumentVector: vector.Zero(4)}
	if err := store.InsertNote(ctx, n); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	got, err := store.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "T" || len(got.DocumentVector) != 4 {
		t.Errorf("reopened note: %+v", got)
	}
}

func TestSQLiteStorage_NoteCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	n := &models.Note{Title: "Title", Content: "Content", CreatedDate: "2024-03-04", DocumentVector: vector.Zero(3), SourceKey: "src"}
	if err := store.InsertNote(ctx, n); err != nil {
		t.Fatal(err)
	}
	if n.ID == 0 || n.AccessedAt.IsZero() {
		t.Fatalf("insert should set ID and timestamps: %+v", n)
	}

	got, err := store.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.Status != models.StatusUnvectorized || !vector.IsZero(got.DocumentVector) {
		t.Errorf("got %+v", got)
	}
	bySource, err := store.GetNoteBySourceKey(ctx, "src")
	if err != nil || bySource.ID != n.ID {
		t.Errorf("by source: %v %v", bySource, err)
	}

	later := time.Now().Add(time.Hour)
	if err := store.UpdateNoteText(ctx, n.ID, "New", "Body", later); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetNote(ctx, n.ID)
	if got.Title != "New" || got.Content != "Body" || !got.UpdatedAt.Equal(later.UTC()) {
		t.Errorf("after update: %+v", got)
	}

	if err := store.UpdateNoteText(ctx, 999, "x", "y", later); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("update missing: want ErrNotFound, got %v", err)
	}
	if _, err := store.GetNote(ctx, 999); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("get missing: want ErrNotFound, got %v", err)
	}

	ok, err := store.DeleteNote(ctx, n.ID)
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.DeleteNote(ctx, n.ID)
	if err != nil || ok {
		t.Errorf("second delete should report false, got %v %v", ok, err)
	}
}

func TestSQLiteStorage_ListAndGetNotes(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	b := insertVectorized(t, store, "b", []float32{0, 1, 0})

	list, err := store.ListNotes(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Errorf("expected newest first, got %d notes", len(list))
	}
	ids, err := store.ListNoteIDs(ctx)
	if err != nil || len(ids) != 2 || ids[0] != a.ID {
		t.Errorf("ids: %v %v", ids, err)
	}
	m, err := store.GetNotes(ctx, []int64{a.ID, 12345})
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 1 || m[a.ID] == nil {
		t.Errorf("GetNotes: %v", m)
	}
}

func TestSQLiteStorage_ParagraphVectors(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	n := insertVectorized(t, store, "n", []float32{1, 0, 0})

	paras := []*models.ParagraphVector{
		{ParagraphIndex: 0, Content: "p0", Vector: []float32{1, 0, 0}},
		{ParagraphIndex: 1, Content: "p1", Vector: []float32{0, 1, 0}},
	}
	if err := store.ReplaceParagraphVectors(ctx, n.ID, paras); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetParagraphVectors(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Content != "p1" || got[1].Vector[1] != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStorage_ScoreAgainst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	b := insertVectorized(t, store, "b", []float32{1, 1, 0})
	c := insertVectorized(t, store, "c", []float32{0, 1, 0})
	u := &models.Note{Title: "u", Content: "u", CreatedDate: "2024-01-01", DocumentVector: vector.Zero(3)}
	if err := store.InsertNote(ctx, u); err != nil {
		t.Fatal(err)
	}

	cands, err := store.ScoreAgainst(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates (self and unvectorized excluded), got %v", cands)
	}
	scores := map[int64]float64{}
	for _, c := range cands {
		scores[c.NoteID] = c.Score
	}
	if !approx(scores[b.ID], 1/math.Sqrt2) || !approx(scores[c.ID], 0) {
		t.Errorf("scores: %v", scores)
	}

	cands, err = store.ScoreAgainst(ctx, u.ID)
	if err != nil || len(cands) != 0 {
		t.Errorf("unvectorized source should have no candidates: %v %v", cands, err)
	}
}

func TestSQLiteStorage_ScoreParagraphsAgainst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	b := insertVectorized(t, store, "b", []float32{0, 1, 0})
	if err := store.ReplaceParagraphVectors(ctx, b.ID, []*models.ParagraphVector{
		{ParagraphIndex: 0, Content: "x", Vector: []float32{0, 1, 0}},
		{ParagraphIndex: 1, Content: "y", Vector: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	cands, err := store.ScoreParagraphsAgainst(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].NoteID != b.ID || !approx(cands[0].Score, 1) {
		t.Errorf("expected best paragraph pair to score 1, got %v", cands)
	}
}

func TestSQLiteStorage_identicalVectorsScoreExactlyOne(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	v := []float32{0.3, 0.7, 0.1, 0.9}
	a := insertVectorized(t, store, "a", v)
	b := insertVectorized(t, store, "b", v)

	docs, err := store.ScoreAgainst(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].NoteID != b.ID || docs[0].Score != 1 {
		t.Errorf("document score: %v", docs)
	}
	paras, err := store.ScoreParagraphsAgainst(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(paras) != 1 || paras[0].Score != 1 {
		t.Errorf("paragraph score: %v", paras)
	}
}

func TestSQLiteStorage_ScoreVector(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	insertVectorized(t, store, "c", []float32{0, 1, 0})

	cands, err := store.ScoreVector(ctx, []float32{1, 0.1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].NoteID != a.ID {
		t.Errorf("got %v", cands)
	}
}

func TestSQLiteStorage_Edges(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	b := insertVectorized(t, store, "b", []float32{1, 1, 0})
	c := insertVectorized(t, store, "c", []float32{0, 1, 0})

	edges := []*models.SimilarityEdge{
		{NoteIDLow: a.ID, NoteIDHigh: b.ID, Score: 0.9},
		{NoteIDLow: b.ID, NoteIDHigh: c.ID, Score: 0.7},
	}
	if err := store.InsertEdges(ctx, edges); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertEdges(ctx, []*models.SimilarityEdge{{NoteIDLow: c.ID, NoteIDHigh: a.ID, Score: 0.5}}); !errors.Is(err, models.ErrStorage) {
		t.Errorf("non-canonical edge should violate the check constraint, got %v", err)
	}

	touching, err := store.EdgesTouching(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(touching) != 2 || touching[0].Score != 0.9 {
		t.Errorf("touching b: %+v", touching)
	}
	top, err := store.TopEdges(ctx, 1)
	if err != nil || len(top) != 1 || top[0].NoteIDHigh != b.ID {
		t.Errorf("top edges: %+v %v", top, err)
	}
	all, _ := store.TopEdges(ctx, 0)
	if len(all) != 2 {
		t.Errorf("limit 0 should return all edges, got %d", len(all))
	}

	n, err := store.DeleteEdgesTouching(ctx, b.ID)
	if err != nil || n != 2 {
		t.Errorf("delete touching: %d %v", n, err)
	}
	n, _ = store.DeleteEdgesTouching(ctx, b.ID)
	if n != 0 {
		t.Errorf("second delete removed %d", n)
	}
}

func TestSQLiteStorage_WithTxRollsBack(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx Storage) error {
		n := &models.Note{Title: "t", Content: "c", CreatedDate: "2024-01-01", DocumentVector: vector.Zero(3)}
		if err := tx.InsertNote(ctx, n); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Notes != 0 {
		t.Errorf("rolled back insert is visible: %+v", stats)
	}
}

func TestSQLiteStorage_Stats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	a := insertVectorized(t, store, "a", []float32{1, 0, 0})
	b := insertVectorized(t, store, "b", []float32{1, 0, 0})
	if err := store.InsertNote(ctx, &models.Note{Title: "u", Content: "", CreatedDate: "2024-01-01", DocumentVector: vector.Zero(3)}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertEdges(ctx, []*models.SimilarityEdge{{NoteIDLow: a.ID, NoteIDHigh: b.ID, Score: 1}}); err != nil {
		t.Fatal(err)
	}
	s, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := models.Stats{Notes: 3, VectorizedNotes: 2, ParagraphVectors: 2, Edges: 1}
	if *s != want {
		t.Errorf("got %+v, want %+v", *s, want)
	}
}

func TestVecCosineSimilarity(t *testing.T) {
	s, err := vecCosineSimilarity(vector.Encode([]float32{1, 0}), vector.Encode([]float32{1, 0}))
	if err != nil || s != 1 {
		t.Errorf("identical: %f %v", s, err)
	}
	s, err = vecCosineSimilarity(vector.Encode([]float32{0, 0}), vector.Encode([]float32{1, 0}))
	if err != nil || s != 0 {
		t.Errorf("zero vector should be orthogonal: %f %v", s, err)
	}
	if _, err := vecCosineSimilarity(vector.Encode([]float32{1}), vector.Encode([]float32{1, 0})); err == nil {
		t.Error("dimension mismatch should error")
	}
}
