package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a note search request.
type SearchQuery struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit,omitempty"`
	KeywordWeight  float64 `json:"keyword_weight,omitempty"`
	SemanticWeight float64 `json:"semantic_weight,omitempty"`
	MinScore       float64 `json:"min_score,omitempty"`
}

// Validate ensures the query is non-empty and sets defaults.
// Limit defaults to 10 and is capped at 100; when both weights are zero they default to 0.5 each.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.KeywordWeight < 0 || q.SemanticWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidInput)
	}
	if q.KeywordWeight == 0 && q.SemanticWeight == 0 {
		q.KeywordWeight = 0.5
		q.SemanticWeight = 0.5
	}
	return nil
}

// SearchResult is a single search hit.
type SearchResult struct {
	Note          *NoteSummary `json:"note"`
	Score         float64      `json:"score"`
	KeywordScore  float64      `json:"keyword_score"`
	SemanticScore float64      `json:"semantic_score"`
	Rank          int          `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
