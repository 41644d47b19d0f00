// Package importer turns files on disk into notes. A file is tied to its note through a
// source key derived from the absolute path, so re-importing updates the same note.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/extract"
	"github.com/hyperjump/memograph/internal/fileid"
	"github.com/hyperjump/memograph/internal/models"
)

// Notes is the subset of the graph engine the importer drives.
type Notes interface {
	CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error)
	UpdateNote(ctx context.Context, id int64, patch models.NotePatch) (*models.Note, error)
	DeleteNote(ctx context.Context, id int64) (bool, error)
	NoteBySourceKey(ctx context.Context, key string) (*models.Note, error)
}

// Action is what an import did to the note of a file.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Result describes the import of one file.
type Result struct {
	Path   string
	NoteID int64
	Action Action
	// Warning is set when the note was stored but could not be vectorized.
	Warning string
}

// Summary counts the outcome of a directory import.
type Summary struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Failed    int      `json:"failed"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Add counts r in the summary.
func (s *Summary) Add(r *Result) {
	switch r.Action {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionUnchanged:
		s.Unchanged++
	}
	if r.Warning != "" {
		s.Warnings = append(s.Warnings, r.Path+": "+r.Warning)
	}
}

// Importer imports files as notes.
type Importer struct {
	notes      Notes
	extractor  *extract.Extractor
	extensions []string
	recursive  bool
	logger     *zap.Logger
	// mu serializes imports so a file seen twice (watch event and directory sync) maps to one note.
	mu sync.Mutex
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// New returns an Importer that accepts files with the configured extensions
// (all files when the list is empty).
func New(notes Notes, cfg *config.ImportConfig, opts ...Option) *Importer {
	im := &Importer{
		notes:      notes,
		extractor:  extract.NewExtractor(),
		extensions: append([]string(nil), cfg.Extensions...),
		recursive:  cfg.RecursiveOrDefault(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Accepts reports whether path has an importable extension.
func (im *Importer) Accepts(path string) bool {
	return ExtensionAllowed(filepath.Ext(path), im.extensions)
}

// ImportFile creates the note for path, or updates its content when the file changed.
// A note that is stored but could not be vectorized is reported through Result.Warning.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !im.Accepts(absPath) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", models.ErrInvalidInput, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrInvalidInput, absPath)
	}
	text, err := im.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	key, err := fileid.SourceKey(absPath)
	if err != nil {
		return nil, fmt.Errorf("source key: %w", err)
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	result := &Result{Path: absPath}
	existing, err := im.notes.NoteBySourceKey(ctx, key)
	switch {
	case errors.Is(err, models.ErrNotFound):
		note, err := im.notes.CreateNote(ctx, models.NoteInput{
			Title:       TitleFromPath(absPath),
			Content:     text,
			CreatedDate: info.ModTime().Format(models.DateLayout),
			SourceKey:   key,
		})
		if note == nil {
			return nil, err
		}
		result.NoteID, result.Action = note.ID, ActionCreated
		if err != nil {
			if !vectorizationFailure(err) {
				return nil, err
			}
			result.Warning = err.Error()
		}
	case err != nil:
		return nil, err
	case existing.Content == text && existing.Status == models.StatusVectorized:
		result.NoteID, result.Action = existing.ID, ActionUnchanged
	default:
		if _, err := im.notes.UpdateNote(ctx, existing.ID, models.NotePatch{Content: &text}); err != nil {
			return nil, err
		}
		result.NoteID, result.Action = existing.ID, ActionUpdated
	}
	im.logger.Debug("file imported",
		zap.String("path", absPath),
		zap.Int64("note_id", result.NoteID),
		zap.String("action", string(result.Action)))
	return result, nil
}

func vectorizationFailure(err error) bool {
	return errors.Is(err, models.ErrEmbedding) || errors.Is(err, models.ErrEmptyContent)
}

// ImportDirectory imports every accepted regular file under dir. Files that fail are
// counted and logged; the walk continues. Only a walk error or cancellation is returned.
func (im *Importer) ImportDirectory(ctx context.Context, dir string) (*Summary, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", models.ErrInvalidInput, absDir)
	}
	summary := &Summary{}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && (!im.recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !im.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are imported
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		r, err := im.ImportFile(ctx, path)
		if err != nil {
			summary.Failed++
			im.logger.Warn("import failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		summary.Add(r)
		return nil
	})
	return summary, err
}

// RemoveFile deletes the note imported from path. It reports false when there is none.
// The file itself does not need to exist.
func (im *Importer) RemoveFile(ctx context.Context, path string) (bool, error) {
	key, err := fileid.SourceKey(path)
	if err != nil {
		return false, fmt.Errorf("source key: %w", err)
	}
	im.mu.Lock()
	defer im.mu.Unlock()

	note, err := im.notes.NoteBySourceKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deleted, err := im.notes.DeleteNote(ctx, note.ID)
	if err != nil {
		return false, err
	}
	im.logger.Debug("imported note removed", zap.String("path", path), zap.Int64("note_id", note.ID))
	return deleted, nil
}

// TitleFromPath returns the file name without its extension. Underscores become spaces
// so the keyword analyzer splits words in names like "weekly_review_2024.md".
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	if title == "" {
		return base
	}
	return title
}

// ExtensionAllowed reports whether ext (with or without dot, any case) is in allowed.
// An empty allowed list accepts everything.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
