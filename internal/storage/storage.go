// Package storage persists notes, paragraph vectors, and similarity edges in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/memograph/internal/models"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same queries run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NoteStore is the note persistence used by the graph engine.
type NoteStore interface {
	InsertNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id int64) (*models.Note, error)
	GetNoteBySourceKey(ctx context.Context, key string) (*models.Note, error)
	GetNotes(ctx context.Context, ids []int64) (map[int64]*models.Note, error)
	ListNotes(ctx context.Context, offset, limit int) ([]*models.Note, error)
	ListNoteIDs(ctx context.Context) ([]int64, error)
	UpdateNoteText(ctx context.Context, id int64, title, content string, now time.Time) error
	TouchNote(ctx context.Context, id int64, now time.Time) error
	SetDocumentVector(ctx context.Context, id int64, v []float32, status models.NoteStatus) error
	DeleteNote(ctx context.Context, id int64) (bool, error)
}

// ParagraphStore persists the per-paragraph vectors of a note.
type ParagraphStore interface {
	ReplaceParagraphVectors(ctx context.Context, noteID int64, paragraphs []*models.ParagraphVector) error
	GetParagraphVectors(ctx context.Context, noteID int64) ([]*models.ParagraphVector, error)
	DeleteParagraphVectors(ctx context.Context, noteID int64) error
}

// EdgeStore persists similarity edges and scores candidate pairs.
type EdgeStore interface {
	ScoreAgainst(ctx context.Context, noteID int64) ([]models.Candidate, error)
	ScoreParagraphsAgainst(ctx context.Context, noteID int64) ([]models.Candidate, error)
	InsertEdges(ctx context.Context, edges []*models.SimilarityEdge) error
	DeleteEdgesTouching(ctx context.Context, noteID int64) (int64, error)
	EdgesTouching(ctx context.Context, noteID int64) ([]*models.SimilarityEdge, error)
	TopEdges(ctx context.Context, limit int) ([]*models.SimilarityEdge, error)
}

// Storage is the full persistence surface.
type Storage interface {
	NoteStore
	ParagraphStore
	EdgeStore
	ScoreVector(ctx context.Context, v []float32, limit int) ([]models.Candidate, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Transactor runs fn inside one transaction. fn's error rolls the transaction back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Storage) error) error
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}
