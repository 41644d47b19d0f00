// Package keyword provides full-text search over note titles and content.
package keyword

import (
	"context"

	"github.com/hyperjump/memograph/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the title field.
	// Values > 1 make title matches rank higher (e.g. 2.0). Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations over notes.
type KeywordIndex interface {
	Index(ctx context.Context, note *models.Note) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, noteID int64) error
	// DocCount returns the number of notes in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	NoteID int64
	Score  float64
}
