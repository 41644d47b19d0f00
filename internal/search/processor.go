package search

import (
	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/models"
)

// ProcessQuery applies configured defaults and validates the search query.
// Configured weights apply only when the request sets neither weight.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	if cfg != nil {
		if query.Limit <= 0 && cfg.DefaultLimit > 0 {
			query.Limit = cfg.DefaultLimit
		}
		if cfg.MaxLimit > 0 && query.Limit > cfg.MaxLimit {
			query.Limit = cfg.MaxLimit
		}
		if query.KeywordWeight == 0 && query.SemanticWeight == 0 {
			query.KeywordWeight = cfg.KeywordWeight
			query.SemanticWeight = cfg.SemanticWeight
		}
	}
	return query.Validate()
}
