// Package models defines core data structures for notes, similarity edges, graph snapshots, and search.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of Note.CreatedDate.
const DateLayout = "2006-01-02"

// NoteStatus tells whether a note's document vector has been computed.
type NoteStatus int

const (
	// StatusUnvectorized marks a note whose document vector is the zero placeholder.
	// Such notes are never compared against.
	StatusUnvectorized NoteStatus = iota
	// StatusVectorized marks a note with a document vector derived from its paragraphs.
	StatusVectorized
)

// String returns the lowercase status name used in JSON and logs.
func (s NoteStatus) String() string {
	switch s {
	case StatusVectorized:
		return "vectorized"
	default:
		return "unvectorized"
	}
}

// MarshalText encodes the status as its name.
func (s NoteStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *NoteStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "vectorized":
		*s = StatusVectorized
	case "unvectorized", "":
		*s = StatusUnvectorized
	default:
		return fmt.Errorf("unknown note status %q", string(b))
	}
	return nil
}

// Note is a stored note with its derived document vector.
type Note struct {
	ID             int64      `json:"id" db:"id"`
	Title          string     `json:"title" db:"title"`
	Content        string     `json:"content" db:"content"`
	CreatedDate    string     `json:"created_date" db:"created_date"`
	AccessedAt     time.Time  `json:"accessed_at" db:"accessed_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	Status         NoteStatus `json:"status" db:"status"`
	DocumentVector []float32  `json:"-" db:"document_vector"`
	// SourceKey identifies the file an imported note came from; empty for notes created through the API.
	SourceKey string `json:"-" db:"source_key"`
}

// NoteSummary is the listing shape of a note (no content, no vector).
type NoteSummary struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	CreatedDate string     `json:"created_date"`
	AccessedAt  time.Time  `json:"accessed_at"`
	Status      NoteStatus `json:"status"`
	Preview     string     `json:"preview"`
}

// NoteInput is the input for creating a note.
type NoteInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	CreatedDate string `json:"created_date,omitempty"`
	SourceKey   string `json:"-"`
}

// Validate checks required fields and normalizes CreatedDate.
// An empty CreatedDate is filled with today's date.
func (in *NoteInput) Validate(now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if in.CreatedDate == "" {
		in.CreatedDate = now.Format(DateLayout)
		return nil
	}
	d, err := ParseCreatedDate(in.CreatedDate)
	if err != nil {
		return err
	}
	in.CreatedDate = d
	return nil
}

// NotePatch is a partial update. Nil fields are left unchanged.
type NotePatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Validate rejects patches that change nothing or blank out the title.
func (p *NotePatch) Validate() error {
	if p.Title == nil && p.Content == nil {
		return fmt.Errorf("%w: patch must set title or content", ErrInvalidInput)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}
	return nil
}

// ChangesContent reports whether applying the patch requires re-vectorization.
func (p *NotePatch) ChangesContent() bool {
	return p.Content != nil
}

// ParseCreatedDate accepts a plain date or an RFC 3339 timestamp and returns the YYYY-MM-DD form.
func ParseCreatedDate(s string) (string, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), nil
	}
	return "", fmt.Errorf("%w: created_date %q is not YYYY-MM-DD or RFC 3339", ErrInvalidInput, s)
}

// ParagraphVector is the embedding of one paragraph of a note.
type ParagraphVector struct {
	NoteID         int64     `json:"note_id" db:"note_id"`
	ParagraphIndex int       `json:"paragraph_index" db:"paragraph_index"`
	Content        string    `json:"content" db:"content"`
	Vector         []float32 `json:"-" db:"vector"`
}
