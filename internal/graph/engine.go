// Package graph maintains notes and their similarity graph through the note lifecycle
// (create, update, delete) and answers related-note and graph snapshot queries.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/fileid"
	"github.com/hyperjump/memograph/internal/keyword"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/similarity"
	"github.com/hyperjump/memograph/internal/storage"
	"github.com/hyperjump/memograph/internal/vector"
	"github.com/hyperjump/memograph/internal/vectorizer"
	"github.com/hyperjump/memograph/pkg/utils"
)

// DefaultPreviewLength is the rune length of node and listing previews.
const DefaultPreviewLength = 160

// Store is the persistence the engine needs: queries plus transactions.
type Store interface {
	storage.Storage
	storage.Transactor
}

// Vectorizer derives paragraph and document vectors from content.
type Vectorizer interface {
	Vectorize(ctx context.Context, content string) (*vectorizer.Vectorization, error)
	Dimensions() int
}

// Engine applies note lifecycle events to storage and keeps the similarity graph consistent.
// Events for the same note are serialized; embedding never runs inside a transaction.
type Engine struct {
	store      Store
	vectorizer Vectorizer
	index      *similarity.Index
	keyword    keyword.KeywordIndex
	locks      *keyedMutex
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
	previewLen int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithKeywordIndex keeps a keyword index in sync with committed note changes.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keyword = k }
}

// WithTracer overrides the tracer; the default comes from the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the time source for accessed_at, updated_at, and created dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPreviewLength sets the rune length of previews.
func WithPreviewLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.previewLen = n
		}
	}
}

// NewEngine returns an Engine. The similarity index decides threshold, limit, and policy.
func NewEngine(store Store, v Vectorizer, index *similarity.Index, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		vectorizer: v,
		index:      index,
		locks:      newKeyedMutex(),
		tracer:     defaultTracer(),
		logger:     zap.NewNop(),
		now:        time.Now,
		previewLen: DefaultPreviewLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateNote stores a new note and links it into the graph.
// The note row is committed before vectorization. If vectorization fails the note is
// returned together with the error; it stays unvectorized and has no edges. If the note is
// deleted before it is vectorized, CreateNote returns ErrNotFound and no note.
func (e *Engine) CreateNote(ctx context.Context, in models.NoteInput) (note *models.Note, err error) {
	ctx, span := e.startSpan(ctx, "CreateNote", 0)
	defer func() { endSpan(span, err) }()

	if err := in.Validate(e.now()); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	note = &models.Note{
		Title:          in.Title,
		Content:        in.Content,
		CreatedDate:    in.CreatedDate,
		AccessedAt:     now,
		UpdatedAt:      now,
		Status:         models.StatusUnvectorized,
		DocumentVector: vector.Zero(e.vectorizer.Dimensions()),
		SourceKey:      in.SourceKey,
	}
	if err := e.store.WithTx(ctx, func(tx storage.Storage) error {
		return tx.InsertNote(ctx, note)
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("memograph.note_id", note.ID))

	unlock := e.locks.Lock(note.ID)
	defer unlock()

	// A delete can win the lock between the insert and here.
	if _, err := e.store.GetNote(ctx, note.ID); err != nil {
		e.logger.Debug("note removed before vectorization", zap.Int64("note_id", note.ID), zap.Error(err))
		return nil, err
	}
	defer e.syncKeyword(ctx, note)

	vec, err := e.vectorizer.Vectorize(ctx, note.Content)
	if err != nil {
		e.logger.Debug("note created without vectors", zap.Int64("note_id", note.ID), zap.Error(err))
		return note, err
	}

	var edges []*models.SimilarityEdge
	err = e.store.WithTx(ctx, func(tx storage.Storage) error {
		var err error
		edges, err = e.applyVectors(ctx, tx, note.ID, vec)
		return err
	})
	if err != nil {
		return note, err
	}
	note.Status = models.StatusVectorized
	note.DocumentVector = vec.DocumentVector
	e.logger.Debug("note created",
		zap.Int64("note_id", note.ID),
		zap.Int("paragraphs", len(vec.Paragraphs)),
		zap.Int("edges", len(edges)))
	return note, nil
}

// applyVectors writes paragraph vectors and the document vector of noteID and refreshes its edges.
func (e *Engine) applyVectors(ctx context.Context, tx storage.Storage, noteID int64, vec *vectorizer.Vectorization) ([]*models.SimilarityEdge, error) {
	if err := tx.ReplaceParagraphVectors(ctx, noteID, vec.Paragraphs); err != nil {
		return nil, err
	}
	if err := tx.SetDocumentVector(ctx, noteID, vec.DocumentVector, models.StatusVectorized); err != nil {
		return nil, err
	}
	return e.index.Refresh(ctx, tx, noteID)
}

// UpdateNote applies patch to note id. A content change re-vectorizes first and then writes
// text, vectors, and edges in one transaction; on any failure the note is left unchanged.
// A title-only change touches the row and leaves vectors and edges alone.
func (e *Engine) UpdateNote(ctx context.Context, id int64, patch models.NotePatch) (note *models.Note, err error) {
	ctx, span := e.startSpan(ctx, "UpdateNote", id)
	defer func() { endSpan(span, err) }()

	if err := patch.Validate(); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	current, err := e.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	title := current.Title
	if patch.Title != nil {
		title = *patch.Title
	}
	now := e.now()

	contentChanged := patch.ChangesContent() &&
		(*patch.Content != current.Content || current.Status != models.StatusVectorized)
	if !contentChanged {
		span.SetAttributes(attribute.Bool("memograph.revectorized", false))
		if err := e.store.UpdateNoteText(ctx, id, title, current.Content, now); err != nil {
			return nil, err
		}
		note, err = e.store.GetNote(ctx, id)
		if err != nil {
			return nil, err
		}
		e.syncKeyword(ctx, note)
		return note, nil
	}

	span.SetAttributes(attribute.Bool("memograph.revectorized", true))
	content := *patch.Content
	vec, err := e.vectorizer.Vectorize(ctx, content)
	if err != nil {
		return nil, err
	}
	err = e.store.WithTx(ctx, func(tx storage.Storage) error {
		if err := tx.UpdateNoteText(ctx, id, title, content, now); err != nil {
			return err
		}
		_, err := e.applyVectors(ctx, tx, id, vec)
		return err
	})
	if err != nil {
		return nil, err
	}
	note, err = e.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	e.syncKeyword(ctx, note)
	e.logger.Debug("note updated", zap.Int64("note_id", id), zap.Int("paragraphs", len(vec.Paragraphs)))
	return note, nil
}

// DeleteNote removes the note, its paragraph vectors, and every edge touching it in one
// transaction. It reports false when the note does not exist.
func (e *Engine) DeleteNote(ctx context.Context, id int64) (deleted bool, err error) {
	ctx, span := e.startSpan(ctx, "DeleteNote", id)
	defer func() { endSpan(span, err) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	err = e.store.WithTx(ctx, func(tx storage.Storage) error {
		if err := e.index.Remove(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.DeleteParagraphVectors(ctx, id); err != nil {
			return err
		}
		var err error
		deleted, err = tx.DeleteNote(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted && e.keyword != nil {
		if err := e.keyword.Delete(ctx, id); err != nil {
			e.logger.Warn("keyword index delete failed", zap.Int64("note_id", id), zap.Error(err))
		}
	}
	return deleted, nil
}

// GetSimilar returns the notes linked to id, highest score first.
func (e *Engine) GetSimilar(ctx context.Context, id int64) (similar []*models.SimilarNote, err error) {
	ctx, span := e.startSpan(ctx, "GetSimilar", id)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetNote(ctx, id); err != nil {
		return nil, err
	}
	return e.similar(ctx, id)
}

func (e *Engine) similar(ctx context.Context, id int64) ([]*models.SimilarNote, error) {
	edges, err := e.store.EdgesTouching(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(edges))
	for i, edge := range edges {
		ids[i] = edge.Other(id)
	}
	notes, err := e.store.GetNotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SimilarNote, 0, len(edges))
	for _, edge := range edges {
		other := edge.Other(id)
		s := &models.SimilarNote{NoteID: other, Score: edge.Score}
		if n, ok := notes[other]; ok {
			s.Title = n.Title
		}
		out = append(out, s)
	}
	return out, nil
}

// GetGraph returns the limit highest scoring edges and the notes they connect.
// limit <= 0 returns every edge. Notes without edges are not part of the snapshot.
func (e *Engine) GetGraph(ctx context.Context, limit int) (snapshot *models.GraphSnapshot, err error) {
	ctx, span := e.startSpan(ctx, "GetGraph", 0)
	span.SetAttributes(attribute.Int("memograph.limit", limit))
	defer func() { endSpan(span, err) }()

	edges, err := e.store.TopEdges(ctx, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(edges)*2)
	var ids []int64
	snapshot = &models.GraphSnapshot{
		Nodes: make([]*models.GraphNode, 0),
		Edges: make([]*models.GraphEdge, 0, len(edges)),
	}
	for _, edge := range edges {
		snapshot.Edges = append(snapshot.Edges, &models.GraphEdge{
			Source: edge.NoteIDLow,
			Target: edge.NoteIDHigh,
			Score:  edge.Score,
		})
		for _, id := range []int64{edge.NoteIDLow, edge.NoteIDHigh} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	notes, err := e.store.GetNotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		n, ok := notes[id]
		if !ok {
			continue
		}
		snapshot.Nodes = append(snapshot.Nodes, &models.GraphNode{
			ID:          n.ID,
			Title:       n.Title,
			CreatedDate: n.CreatedDate,
			AccessedAt:  n.AccessedAt,
			Preview:     utils.Preview(n.Content, e.previewLen),
		})
	}
	return snapshot, nil
}

// GetNote returns a note with its related notes and records the access.
func (e *Engine) GetNote(ctx context.Context, id int64) (detail *models.NoteDetail, err error) {
	ctx, span := e.startSpan(ctx, "GetNote", id)
	defer func() { endSpan(span, err) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	if err := e.store.TouchNote(ctx, id, e.now()); err != nil {
		return nil, err
	}
	note, err := e.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	similar, err := e.similar(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.NoteDetail{Note: note, Similar: similar}, nil
}

// NoteBySourceKey returns the imported note with the given source key, or models.ErrNotFound.
// It does not record an access.
func (e *Engine) NoteBySourceKey(ctx context.Context, key string) (*models.Note, error) {
	if !fileid.IsSourceKey(key) {
		return nil, fmt.Errorf("%w: malformed source key %q", models.ErrInvalidInput, key)
	}
	return e.store.GetNoteBySourceKey(ctx, key)
}

// ListNotes returns note summaries, newest first. limit <= 0 returns all.
func (e *Engine) ListNotes(ctx context.Context, offset, limit int) ([]*models.NoteSummary, error) {
	notes, err := e.store.ListNotes(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.NoteSummary, len(notes))
	for i, n := range notes {
		out[i] = e.summary(n)
	}
	return out, nil
}

// Summaries returns summaries of the given notes keyed by ID.
func (e *Engine) Summaries(ctx context.Context, ids []int64) (map[int64]*models.NoteSummary, error) {
	notes, err := e.store.GetNotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*models.NoteSummary, len(notes))
	for id, n := range notes {
		out[id] = e.summary(n)
	}
	return out, nil
}

func (e *Engine) summary(n *models.Note) *models.NoteSummary {
	return &models.NoteSummary{
		ID:          n.ID,
		Title:       n.Title,
		CreatedDate: n.CreatedDate,
		AccessedAt:  n.AccessedAt,
		Status:      n.Status,
		Preview:     utils.Preview(n.Content, e.previewLen),
	}
}

// Stats summarizes the collection.
func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	return e.store.Stats(ctx)
}

// RebuildReport summarizes a Rebuild run.
type RebuildReport struct {
	Notes      int           `json:"notes"`
	Vectorized int           `json:"vectorized"`
	Empty      int           `json:"empty"`
	Failed     int           `json:"failed"`
	Edges      int64         `json:"edges"`
	Duration   time.Duration `json:"duration"`
}

// Rebuild re-vectorizes every note and then refreshes every note's edges. Use it after changing
// the model, threshold, limit, or policy. Notes that fail to embed keep their previous vectors
// and are counted in Failed; storage errors abort the run.
func (e *Engine) Rebuild(ctx context.Context) (report *RebuildReport, err error) {
	ctx, span := e.startSpan(ctx, "Rebuild", 0)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	ids, err := e.store.ListNoteIDs(ctx)
	if err != nil {
		return nil, err
	}
	report = &RebuildReport{Notes: len(ids)}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.revectorize(ctx, id, report); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unlock := e.locks.Lock(id)
		err := e.store.WithTx(ctx, func(tx storage.Storage) error {
			_, err := e.index.Refresh(ctx, tx, id)
			return err
		})
		unlock()
		if err != nil {
			return nil, err
		}
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Edges = stats.Edges
	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("memograph.rebuild.notes", report.Notes),
		attribute.Int("memograph.rebuild.failed", report.Failed),
		attribute.Int64("memograph.rebuild.edges", report.Edges),
	)
	e.logger.Info("rebuild complete",
		zap.Int("notes", report.Notes),
		zap.Int("vectorized", report.Vectorized),
		zap.Int("empty", report.Empty),
		zap.Int("failed", report.Failed),
		zap.Int64("edges", report.Edges),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// revectorize recomputes the vectors of one note without touching edges.
func (e *Engine) revectorize(ctx context.Context, id int64, report *RebuildReport) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	note, err := e.store.GetNote(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer e.syncKeyword(ctx, note)

	vec, err := e.vectorizer.Vectorize(ctx, note.Content)
	switch {
	case errors.Is(err, models.ErrEmptyContent):
		report.Empty++
		return e.store.WithTx(ctx, func(tx storage.Storage) error {
			if err := tx.DeleteParagraphVectors(ctx, id); err != nil {
				return err
			}
			return tx.SetDocumentVector(ctx, id, vector.Zero(e.vectorizer.Dimensions()), models.StatusUnvectorized)
		})
	case err != nil:
		report.Failed++
		e.logger.Warn("rebuild: vectorization failed", zap.Int64("note_id", id), zap.Error(err))
		return nil
	}
	report.Vectorized++
	return e.store.WithTx(ctx, func(tx storage.Storage) error {
		if err := tx.ReplaceParagraphVectors(ctx, id, vec.Paragraphs); err != nil {
			return err
		}
		return tx.SetDocumentVector(ctx, id, vec.DocumentVector, models.StatusVectorized)
	})
}

// syncKeyword mirrors a committed note into the keyword index. The keyword index is derived
// data, so failures are logged and not returned.
func (e *Engine) syncKeyword(ctx context.Context, note *models.Note) {
	if e.keyword == nil || note == nil {
		return
	}
	if err := e.keyword.Index(ctx, note); err != nil {
		e.logger.Warn("keyword index update failed", zap.Int64("note_id", note.ID), zap.Error(err))
	}
}
