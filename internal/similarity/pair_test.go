package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/memograph/internal/models"
)

func TestCanonical(t *testing.T) {
	low, high := Canonical(9, 3)
	assert.Equal(t, int64(3), low)
	assert.Equal(t, int64(9), high)

	low, high = Canonical(3, 9)
	assert.Equal(t, int64(3), low)
	assert.Equal(t, int64(9), high)
}

func TestSelect(t *testing.T) {
	cands := []models.Candidate{
		{NoteID: 5, Score: 0.7},
		{NoteID: 2, Score: 0.9},
		{NoteID: 4, Score: 0.59},
		{NoteID: 3, Score: 0.7},
		{NoteID: 6, Score: 0.6},
	}

	tests := []struct {
		name      string
		threshold float64
		limit     int
		want      []int64
	}{
		{"threshold is inclusive", 0.6, 10, []int64{2, 3, 5, 6}},
		{"ties broken by lower id", 0.6, 2, []int64{2, 3}},
		{"nothing above threshold", 0.95, 10, nil},
		{"negative threshold keeps all", -1, 10, []int64{2, 3, 5, 6, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(cands, tt.threshold, tt.limit)
			var ids []int64
			for _, c := range got {
				ids = append(ids, c.NoteID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
	assert.Equal(t, int64(5), cands[0].NoteID, "input must not be reordered")
}
