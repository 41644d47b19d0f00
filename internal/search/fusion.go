// Package search provides hybrid note search (keyword + semantic) and result fusion.
package search

import (
	"sort"

	"github.com/hyperjump/memograph/internal/keyword"
	"github.com/hyperjump/memograph/internal/models"
)

// FusedResult holds a note ID and fused keyword/semantic scores.
type FusedResult struct {
	NoteID        int64
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[int64]float64 {
	normalized := make(map[int64]float64, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.NoteID] = r.Score / maxScore
		} else {
			normalized[r.NoteID] = 0
		}
	}
	return normalized
}

// NormalizeSemanticScores maps cosine similarities into [0,1]; negative similarity counts as 0.
func NormalizeSemanticScores(results []models.Candidate) map[int64]float64 {
	normalized := make(map[int64]float64, len(results))
	for _, r := range results {
		s := r.Score
		if s < 0 {
			s = 0
		}
		normalized[r.NoteID] = s
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights and returns results sorted by
// score descending, ties by lower note ID.
func Fuse(keywordScores, semanticScores map[int64]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[int64]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{NoteID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{NoteID: id, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NoteID < results[j].NoteID
	})
	return results
}
