package similarity

import (
	"sort"

	"github.com/hyperjump/memograph/internal/models"
)

// Canonical orders a pair so that the lower ID comes first.
func Canonical(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Select keeps candidates scoring at least threshold, orders them by score descending
// with ties broken by lower note ID, and truncates to limit. The input slice is not modified.
func Select(cands []models.Candidate, threshold float64, limit int) []models.Candidate {
	kept := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].NoteID < kept[j].NoteID
	})
	if limit >= 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
