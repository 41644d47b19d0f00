package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/embedding"
	"github.com/hyperjump/memograph/internal/graph"
	"github.com/hyperjump/memograph/internal/keyword"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/search"
	"github.com/hyperjump/memograph/internal/similarity"
	"github.com/hyperjump/memograph/internal/storage"
	"github.com/hyperjump/memograph/internal/vectorizer"
)

// failingEmbedder fails for any text containing "FAIL".
type failingEmbedder struct {
	*embedding.MockEmbedder
}

func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "FAIL") {
			return nil, errors.New("model crashed")
		}
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

type staticWatch []string

func (s staticWatch) Directories() []string { return s }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "memograph.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 16

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	emb := failingEmbedder{embedding.NewMockEmbedder(16)}
	vec, err := vectorizer.New(emb, 16)
	if err != nil {
		t.Fatal(err)
	}
	ix, err := similarity.NewFromConfig(&cfg.Similarity)
	if err != nil {
		t.Fatal(err)
	}
	g := graph.NewEngine(store, vec, ix, graph.WithKeywordIndex(kw))
	se := search.NewEngine(kw, vec, store, g, &cfg.Search)
	return NewServer(g, se, cfg, nil, staticWatch{"/inbox"})
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type createdNote struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Warning string `json:"warning"`
}

func createNote(t *testing.T, s *Server, title, content string) createdNote {
	t.Helper()
	body := fmt.Sprintf(`{"title":%q,"content":%q}`, title, content)
	w := do(t, s, http.MethodPost, "/api/memos", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	var n createdNote
	decode(t, w, &n)
	return n
}

func TestCreateAndGetNote(t *testing.T) {
	s := newTestServer(t)
	a := createNote(t, s, "Standup", "Discussed the release checklist.")
	b := createNote(t, s, "Standup copy", "Discussed the release checklist.")
	if a.Status != "vectorized" || a.Warning != "" {
		t.Errorf("created note = %+v", a)
	}

	w := do(t, s, http.MethodGet, fmt.Sprintf("/api/memos/%d", a.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	var detail struct {
		Note    models.Note          `json:"note"`
		Similar []models.SimilarNote `json:"similar"`
	}
	decode(t, w, &detail)
	if detail.Note.Title != "Standup" || detail.Note.Content != "Discussed the release checklist." {
		t.Errorf("note = %+v", detail.Note)
	}
	if len(detail.Similar) != 1 || detail.Similar[0].NoteID != b.ID || detail.Similar[0].Score < 0.999 {
		t.Errorf("similar = %+v", detail.Similar)
	}

	w = do(t, s, http.MethodGet, fmt.Sprintf("/api/memos/%d/", a.ID), "")
	if w.Code != http.StatusOK {
		t.Errorf("trailing slash: status %d", w.Code)
	}
}

func TestCreateNote_validation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing title", `{"content":"x"}`, http.StatusBadRequest},
		{"bad json", `{"title":`, http.StatusBadRequest},
		{"unknown field", `{"title":"a","colour":"red"}`, http.StatusBadRequest},
		{"bad date", `{"title":"a","content":"x","created_date":"yesterday"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/memos", tt.body)
			if w.Code != tt.want {
				t.Errorf("status %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCreateNote_storedWithWarning(t *testing.T) {
	s := newTestServer(t)
	empty := createNote(t, s, "Blank", "   ")
	if empty.Warning == "" || empty.Status != "unvectorized" {
		t.Errorf("empty content: %+v", empty)
	}
	failed := createNote(t, s, "Crash", "this will FAIL")
	if failed.Warning == "" || failed.Status != "unvectorized" {
		t.Errorf("embedding failure: %+v", failed)
	}
}

func TestUpdateNote(t *testing.T) {
	s := newTestServer(t)
	n := createNote(t, s, "Draft", "first version")
	path := fmt.Sprintf("/api/memos/%d", n.ID)

	w := do(t, s, http.MethodPatch, path, `{"title":"Final","content":"second version"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status %d body %s", w.Code, w.Body.String())
	}
	var updated models.Note
	decode(t, w, &updated)
	if updated.Title != "Final" || updated.Content != "second version" {
		t.Errorf("updated = %+v", updated)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"embedding failure", path, `{"content":"FAIL now"}`, http.StatusServiceUnavailable},
		{"empty content", path, `{"content":"  "}`, http.StatusUnprocessableEntity},
		{"empty patch", path, `{}`, http.StatusBadRequest},
		{"missing note", "/api/memos/999", `{"title":"x"}`, http.StatusNotFound},
		{"bad id", "/api/memos/abc", `{"title":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPatch, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w = do(t, s, http.MethodGet, path, "")
	var detail struct {
		Note models.Note `json:"note"`
	}
	decode(t, w, &detail)
	if detail.Note.Content != "second version" {
		t.Errorf("failed updates must not change the note: %q", detail.Note.Content)
	}
}

func TestDeleteNote(t *testing.T) {
	s := newTestServer(t)
	n := createNote(t, s, "Temp", "short lived")
	path := fmt.Sprintf("/api/memos/%d", n.ID)

	w := do(t, s, http.MethodDelete, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	var ok map[string]bool
	decode(t, w, &ok)
	if !ok["ok"] {
		t.Errorf("body = %v", ok)
	}
	if w := do(t, s, http.MethodDelete, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: status %d", w.Code)
	}
}

func TestListAndSimilar(t *testing.T) {
	s := newTestServer(t)
	a := createNote(t, s, "One", "same words here")
	createNote(t, s, "Two", "same words here")
	createNote(t, s, "Three", "completely different topic")

	w := do(t, s, http.MethodGet, "/api/memos?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var list []models.NoteSummary
	decode(t, w, &list)
	if len(list) != 2 {
		t.Errorf("got %d notes, want 2", len(list))
	}
	if w := do(t, s, http.MethodGet, "/api/memos?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", w.Code)
	}

	w = do(t, s, http.MethodGet, fmt.Sprintf("/api/memos/%d/similar", a.ID), "")
	var similar []models.SimilarNote
	decode(t, w, &similar)
	if len(similar) != 1 || similar[0].Title != "Two" {
		t.Errorf("similar = %+v", similar)
	}
	if w := do(t, s, http.MethodGet, "/api/memos/999/similar", ""); w.Code != http.StatusNotFound {
		t.Errorf("similar of missing note: status %d", w.Code)
	}
}

func TestGraph(t *testing.T) {
	s := newTestServer(t)
	createNote(t, s, "A", "alpha text")
	createNote(t, s, "B", "alpha text")
	createNote(t, s, "Lonely", "nothing alike")

	w := do(t, s, http.MethodGet, "/api/graph", "")
	if w.Code != http.StatusOK {
		t.Fatalf("graph: status %d", w.Code)
	}
	var snap models.GraphSnapshot
	decode(t, w, &snap)
	if len(snap.Edges) != 1 || len(snap.Nodes) != 2 {
		t.Errorf("snapshot = %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}
	if snap.Edges[0].Source >= snap.Edges[0].Target {
		t.Errorf("edge not canonical: %+v", snap.Edges[0])
	}
	createNote(t, s, "C", "alpha text")
	for _, q := range []string{"?limit=-1", "?limit=0"} {
		w := do(t, s, http.MethodGet, "/api/graph"+q, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", q, w.Code)
		}
		var all models.GraphSnapshot
		decode(t, w, &all)
		if len(all.Edges) != 3 || len(all.Nodes) != 3 {
			t.Errorf("%s: snapshot = %d nodes, %d edges", q, len(all.Nodes), len(all.Edges))
		}
	}
	w = do(t, s, http.MethodGet, "/api/graph?limit=1", "")
	var top models.GraphSnapshot
	decode(t, w, &top)
	if len(top.Edges) != 1 {
		t.Errorf("limit=1: %d edges", len(top.Edges))
	}
	if w := do(t, s, http.MethodGet, "/api/graph?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", w.Code)
	}
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)
	n := createNote(t, s, "Garden", "tomatoes need sun")
	createNote(t, s, "Finance", "quarterly budget review")

	w := do(t, s, http.MethodGet, "/api/search?q=tomatoes&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search: status %d body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	decode(t, w, &resp)
	if len(resp.Results) == 0 || resp.Results[0].Note.ID != n.ID {
		t.Errorf("results = %+v", resp.Results)
	}

	w = do(t, s, http.MethodPost, "/api/search", `{"query":"tomatoes need sun","limit":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("search post: status %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/search?q=", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: status %d", w.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestServer(t)
	createNote(t, s, "A", "something")

	w := do(t, s, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		Notes          int64    `json:"notes"`
		Vectorized     int64    `json:"vectorized_notes"`
		DiskUsageBytes int64    `json:"disk_usage_bytes"`
		Watch          []string `json:"watch_directories"`
	}
	decode(t, w, &resp)
	if resp.Notes != 1 || resp.Vectorized != 1 {
		t.Errorf("counts = %+v", resp)
	}
	if resp.DiskUsageBytes <= 0 {
		t.Errorf("disk usage = %d", resp.DiskUsageBytes)
	}
	if len(resp.Watch) != 1 || resp.Watch[0] != "/inbox" {
		t.Errorf("watch = %v", resp.Watch)
	}

	if w := do(t, s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: %d", w.Code)
	}
}

func TestRebuild(t *testing.T) {
	s := newTestServer(t)
	createNote(t, s, "A", "alpha text")
	createNote(t, s, "B", "alpha text")

	w := do(t, s, http.MethodPost, "/api/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild: status %d", w.Code)
	}
	var report graph.RebuildReport
	decode(t, w, &report)
	if report.Notes != 2 || report.Vectorized != 2 || report.Edges != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{models.ErrEmptyContent, http.StatusUnprocessableEntity},
		{fmt.Errorf("vectorize: %w", models.ErrEmbedding), http.StatusServiceUnavailable},
		{fmt.Errorf("insert: %w", models.ErrStorage), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
