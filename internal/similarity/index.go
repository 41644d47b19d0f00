// Package similarity maintains the sparse similarity graph: for each note, the edges to the
// most similar other notes above a threshold.
package similarity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/storage"
)

// Index recomputes and removes the edges of one note. Every call takes the store it should
// run against so that the caller can place it in a transaction.
type Index struct {
	threshold float64
	limit     int
	policy    string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithClock overrides the source of created_time for new edges.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) { ix.now = now }
}

// New returns an Index. threshold must be in [-1, 1] and limit positive.
// policy is config.PolicyMean or config.PolicyMaxParagraph; empty means mean.
func New(threshold float64, limit int, policy string, opts ...Option) (*Index, error) {
	if threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [-1, 1]", models.ErrConfiguration, threshold)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", models.ErrConfiguration, limit)
	}
	switch policy {
	case "":
		policy = config.PolicyMean
	case config.PolicyMean, config.PolicyMaxParagraph:
	default:
		return nil, fmt.Errorf("%w: unknown similarity policy %q", models.ErrConfiguration, policy)
	}
	ix := &Index{
		threshold: threshold,
		limit:     limit,
		policy:    policy,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// NewFromConfig builds an Index from the similarity section of the configuration.
func NewFromConfig(cfg *config.SimilarityConfig, opts ...Option) (*Index, error) {
	return New(cfg.ThresholdOrDefault(), cfg.Limit, cfg.Policy, opts...)
}

// Threshold returns the minimum score of a stored edge.
func (ix *Index) Threshold() float64 { return ix.threshold }

// Limit returns the maximum number of edges inserted per refresh.
func (ix *Index) Limit() int { return ix.limit }

// Policy returns the scoring policy name.
func (ix *Index) Policy() string { return ix.policy }

// Remove deletes every edge touching noteID. Removing a note without edges is a no-op.
func (ix *Index) Remove(ctx context.Context, q storage.EdgeStore, noteID int64) error {
	n, err := q.DeleteEdgesTouching(ctx, noteID)
	if err != nil {
		return err
	}
	if n > 0 {
		ix.logger.Debug("removed edges", zap.Int64("note_id", noteID), zap.Int64("count", n))
	}
	return nil
}

// Score compares noteID with every other vectorized note under the configured policy.
func (ix *Index) Score(ctx context.Context, q storage.EdgeStore, noteID int64) ([]models.Candidate, error) {
	if ix.policy == config.PolicyMaxParagraph {
		return q.ScoreParagraphsAgainst(ctx, noteID)
	}
	return q.ScoreAgainst(ctx, noteID)
}

// Refresh replaces the edges of noteID with edges to its top-limit most similar notes whose
// score is at least the threshold, and returns the inserted edges. An unvectorized note
// ends up with no edges. Edges are deleted and reinserted, so created_at is not stable
// across refreshes.
func (ix *Index) Refresh(ctx context.Context, q storage.EdgeStore, noteID int64) ([]*models.SimilarityEdge, error) {
	if err := ix.Remove(ctx, q, noteID); err != nil {
		return nil, err
	}
	cands, err := ix.Score(ctx, q, noteID)
	if err != nil {
		return nil, err
	}
	selected := Select(cands, ix.threshold, ix.limit)
	if len(selected) == 0 {
		return nil, nil
	}

	created := ix.now().UTC()
	edges := make([]*models.SimilarityEdge, 0, len(selected))
	for _, c := range selected {
		if c.NoteID == noteID {
			continue
		}
		low, high := Canonical(noteID, c.NoteID)
		edges = append(edges, &models.SimilarityEdge{
			NoteIDLow:   low,
			NoteIDHigh:  high,
			Score:       c.Score,
			CreatedTime: created,
		})
	}
	if err := q.InsertEdges(ctx, edges); err != nil {
		return nil, err
	}
	ix.logger.Debug("refreshed edges",
		zap.Int64("note_id", noteID),
		zap.Int("candidates", len(cands)),
		zap.Int("edges", len(edges)))
	return edges, nil
}
