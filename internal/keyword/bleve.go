package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/memograph/internal/models"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func noteMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	noteDoc := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query matches the exact word.
	textFieldMapping.Analyzer = standard.Name
	noteDoc.AddFieldMappingsAt("content", textFieldMapping)
	noteDoc.AddFieldMappingsAt("title", textFieldMapping)
	im.AddDocumentMapping("note", noteDoc)
	im.DefaultType = "note"
	im.DefaultMapping = noteDoc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an in-memory index.
// The index is derived from the notes table: if the mapping changes, remove the directory and rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(noteMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, noteMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func docID(noteID int64) string {
	return strconv.FormatInt(noteID, 10)
}

// Index adds or replaces a note.
func (b *BleveIndex) Index(ctx context.Context, note *models.Note) error {
	return b.index.Index(docID(note.ID), map[string]interface{}{
		"title":   note.Title,
		"content": note.Content,
	})
}

// Search runs a match query and returns up to limit results.
// When opts is nil or TitleBoost <= 1, a single match over title+content is used.
// Otherwise title and content are queried separately and merged additively:
// score = titleScore*TitleBoost + contentScore.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	if limit <= 0 {
		limit = 10
	}

	if titleBoost <= 1.0 {
		scores, err := b.run(buildQuery(query, "", fuzzyEnabled, fuzziness), limit)
		if err != nil {
			return nil, err
		}
		return rank(scores, limit), nil
	}

	// Request more from each field so the merged top limit is right.
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleScores, err := b.run(buildQuery(query, "title", fuzzyEnabled, fuzziness), reqSize)
	if err != nil {
		return nil, err
	}
	contentScores, err := b.run(buildQuery(query, "content", fuzzyEnabled, fuzziness), reqSize)
	if err != nil {
		return nil, err
	}
	merged := make(map[int64]float64, len(titleScores)+len(contentScores))
	for id, s := range titleScores {
		merged[id] += s * titleBoost
	}
	for id, s := range contentScores {
		merged[id] += s
	}
	return rank(merged, limit), nil
}

func (b *BleveIndex) run(q blevequery.Query, size int) (map[int64]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[int64]float64, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		scores[id] = hit.Score
	}
	return scores, nil
}

func rank(scores map[int64]float64, limit int) []*KeywordResult {
	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{NoteID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NoteID < out[j].NoteID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzzy is set.
// An empty field searches all fields.
func buildQuery(query, field string, fuzzy bool, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a note from the index. Deleting an absent note is not an error.
func (b *BleveIndex) Delete(ctx context.Context, noteID int64) error {
	return b.index.Delete(docID(noteID))
}

// DocCount returns the total number of notes in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
