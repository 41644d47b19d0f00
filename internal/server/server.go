// Package server provides the HTTP API for memograph.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/config"
	"github.com/hyperjump/memograph/internal/graph"
	"github.com/hyperjump/memograph/internal/models"
)

// maxBodyBytes caps request bodies for note create and update.
const maxBodyBytes = 4 << 20

// Notes is the note and graph API the server exposes. *graph.Engine implements it.
type Notes interface {
	CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error)
	UpdateNote(ctx context.Context, id int64, patch models.NotePatch) (*models.Note, error)
	DeleteNote(ctx context.Context, id int64) (bool, error)
	GetNote(ctx context.Context, id int64) (*models.NoteDetail, error)
	GetSimilar(ctx context.Context, id int64) ([]*models.SimilarNote, error)
	GetGraph(ctx context.Context, limit int) (*models.GraphSnapshot, error)
	ListNotes(ctx context.Context, offset, limit int) ([]*models.NoteSummary, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Rebuild(ctx context.Context) (*graph.RebuildReport, error)
}

// Searcher runs note searches. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// WatchService reports the directories watched for imports. Optional.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the memograph API.
type Server struct {
	notes  Notes
	search Searcher
	watch  WatchService
	config *config.Config
	logger *zap.Logger
	router chi.Router
	server *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil when no
// directories are watched.
func NewServer(notes Notes, searcher Searcher, cfg *config.Config, logger *zap.Logger, watch WatchService) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		notes:  notes,
		search: searcher,
		watch:  watch,
		config: cfg,
		logger: logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Route("/memos", func(r chi.Router) {
			r.Get("/", s.handleListNotes)
			r.Post("/", s.handleCreateNote)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNote)
				r.Patch("/", s.handleUpdateNote)
				r.Delete("/", s.handleDeleteNote)
				r.Get("/similar", s.handleSimilar)
			})
		})
		r.Get("/graph", s.handleGraph)
		r.Get("/search", s.handleSearchGet)
		r.Post("/search", s.handleSearchPost)
		r.Get("/status", s.handleStatus)
		r.Post("/rebuild", s.handleRebuild)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs each request at debug level with its status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. Start returns http.ErrServerClosed afterwards.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
