package models

import "time"

// SimilarityEdge is an undirected similarity edge stored in canonical orientation (NoteIDLow < NoteIDHigh).
type SimilarityEdge struct {
	NoteIDLow   int64     `json:"note_id_low" db:"note_id_low"`
	NoteIDHigh  int64     `json:"note_id_high" db:"note_id_high"`
	Score       float64   `json:"score" db:"score"`
	CreatedTime time.Time `json:"created_time" db:"created_time"`
}

// Other returns the endpoint of e that is not id.
func (e *SimilarityEdge) Other(id int64) int64 {
	if e.NoteIDLow == id {
		return e.NoteIDHigh
	}
	return e.NoteIDLow
}

// Touches reports whether id is an endpoint of e.
func (e *SimilarityEdge) Touches(id int64) bool {
	return e.NoteIDLow == id || e.NoteIDHigh == id
}

// Candidate is a scored comparison between a note and another note, before threshold and top-k selection.
type Candidate struct {
	NoteID int64
	Score  float64
}

// SimilarNote is one entry of a "related notes" list.
type SimilarNote struct {
	NoteID int64   `json:"similarity_memo_id"`
	Title  string  `json:"title,omitempty"`
	Score  float64 `json:"similarity_score"`
}

// GraphNode is a note appearing in a graph snapshot.
type GraphNode struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	CreatedDate string    `json:"created_date"`
	AccessedAt  time.Time `json:"accessed_at"`
	Preview     string    `json:"preview"`
}

// GraphEdge is an edge in a graph snapshot. Source is always the lower note ID.
type GraphEdge struct {
	Source int64   `json:"source"`
	Target int64   `json:"target"`
	Score  float64 `json:"score"`
}

// GraphSnapshot is the node and edge set consumed by the graph view.
type GraphSnapshot struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}

// NoteDetail is a note together with its related notes.
type NoteDetail struct {
	Note    *Note          `json:"note"`
	Similar []*SimilarNote `json:"similar"`
}

// Stats summarizes the collection.
type Stats struct {
	Notes            int64 `json:"notes"`
	VectorizedNotes  int64 `json:"vectorized_notes"`
	ParagraphVectors int64 `json:"paragraph_vectors"`
	Edges            int64 `json:"edges"`
}
