// Package watcher keeps imported notes in sync with inbox directories using fsnotify.
// Writes are debounced per file; removals and renames delete the note immediately.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/importer"
)

// DefaultDebounce is how long a file must be quiet before it is imported.
const DefaultDebounce = 400 * time.Millisecond

// Handler applies file changes to notes. *importer.Importer implements it.
type Handler interface {
	ImportFile(ctx context.Context, path string) (*importer.Result, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
}

// Watcher watches directories and forwards accepted file changes to a Handler.
type Watcher struct {
	roots       []string
	extensions  []string
	recursive   bool
	handler     Handler
	debounce    time.Duration
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
	ctx         context.Context
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	pending     sync.WaitGroup
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events and import failures.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. extensions filter which files are forwarded (empty = all).
// Missing roots are created on Start.
func New(roots, extensions []string, recursive bool, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		extensions:  append([]string(nil), extensions...),
		recursive:   recursive,
		handler:     handler,
		debounce:    DefaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Events are handled until ctx is cancelled or Stop is called.
// Start does not import files that already exist; run a directory import for that.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fw.Close()
			w.watcher = nil
			return err
		}
	}
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		// TODO: removing a whole subdirectory only reports the directory, so notes imported from it stay.
		w.cancelDebounce(path)
		if w.accepts(path) {
			w.remove(path)
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && w.recursive {
				w.handleNewDirectory(path)
			}
			return
		}
		if w.accepts(path) {
			w.debounceImport(path)
		}
	}
}

// handleNewDirectory watches a directory created (or moved) under a root and imports its files.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if w.accepts(path) {
			w.debounceImport(path)
		}
		return nil
	})
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.roots {
		if inDir(root, path) {
			if !w.recursive && filepath.Dir(path) != root {
				return false
			}
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return importer.ExtensionAllowed(filepath.Ext(path), w.extensions)
}

func (w *Watcher) debounceImport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok && t.Stop() {
		w.pending.Done()
	}
	w.pending.Add(1)
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.mu.Lock()
		delete(w.debounceMap, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.importFile(ctx, path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		if t.Stop() {
			w.pending.Done()
		}
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	r, err := w.handler.ImportFile(ctx, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Removed before the debounce fired; the Remove event handles it.
	case err != nil:
		w.logger.Warn("watcher import failed", zap.String("path", path), zap.Error(err))
	case r.Warning != "":
		w.logger.Warn("watcher imported note without vectors",
			zap.String("path", path), zap.Int64("note_id", r.NoteID), zap.String("warning", r.Warning))
	default:
		w.logger.Debug("watcher imported file",
			zap.String("path", path), zap.Int64("note_id", r.NoteID), zap.String("action", string(r.Action)))
	}
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	removed, err := w.handler.RemoveFile(ctx, path)
	if err != nil {
		w.logger.Warn("watcher remove failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("watcher removed file", zap.String("path", path), zap.Bool("had_note", removed))
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher, cancels pending imports, and waits for running ones to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		if t.Stop() {
			w.pending.Done()
		}
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.pending.Wait()
}
