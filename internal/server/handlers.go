package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/storage"
)

// createResponse is a created note plus a warning when it could not be vectorized yet.
type createResponse struct {
	*models.Note
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	notes, err := s.notes.ListNotes(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, "list notes", err)
		return
	}
	s.respondJSON(w, http.StatusOK, notes)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var input models.NoteInput
	if err := decodeBody(w, r, &input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("create note request", zap.String("title", input.Title))
	note, err := s.notes.CreateNote(r.Context(), input)
	if err != nil && note == nil {
		s.respondErr(w, "create note", err)
		return
	}
	resp := createResponse{Note: note}
	if err != nil {
		s.logger.Warn("note stored without vectors", zap.Int64("note_id", note.ID), zap.Error(err))
		resp.Warning = err.Error()
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	detail, err := s.notes.GetNote(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get note", err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	var patch models.NotePatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	note, err := s.notes.UpdateNote(r.Context(), id, patch)
	if err != nil {
		s.respondErr(w, "update note", err)
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete note request", zap.Int64("id", id))
	deleted, err := s.notes.DeleteNote(r.Context(), id)
	if err != nil {
		s.respondErr(w, "delete note", err)
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "note not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := s.noteID(w, r)
	if !ok {
		return
	}
	similar, err := s.notes.GetSimilar(r.Context(), id)
	if err != nil {
		s.respondErr(w, "similar notes", err)
		return
	}
	if similar == nil {
		similar = []*models.SimilarNote{}
	}
	s.respondJSON(w, http.StatusOK, similar)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	limit, err := queryCap(r, "limit", s.config.Similarity.GraphLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot, err := s.notes.GetGraph(r.Context(), limit)
	if err != nil {
		s.respondErr(w, "graph", err)
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runSearch(w, r, &models.SearchQuery{Query: r.URL.Query().Get("q"), Limit: limit})
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := decodeBody(w, r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runSearch(w, r, &query)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, query *models.SearchQuery) {
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.notes.Stats(r.Context())
	if err != nil {
		s.respondErr(w, "status", err)
		return
	}
	resp := map[string]interface{}{
		"notes":             stats.Notes,
		"vectorized_notes":  stats.VectorizedNotes,
		"paragraph_vectors": stats.ParagraphVectors,
		"edges":             stats.Edges,
	}
	sc := s.config.Storage
	paths := append(storage.DatabaseFiles(sc.DatabasePath), sc.BleveIndexPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	resp["config"] = map[string]interface{}{
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"similarity_threshold": s.config.Similarity.ThresholdOrDefault(),
		"similarity_limit":     s.config.Similarity.Limit,
		"similarity_policy":    s.config.Similarity.Policy,
		"database_path":        sc.DatabasePath,
		"bleve_index_path":     sc.BleveIndexPath,
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.notes.Rebuild(r.Context())
	if err != nil {
		s.respondErr(w, "rebuild", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// noteID parses the {id} URL parameter, answering 400 itself when it is not a positive integer.
func (s *Server) noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid note id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// queryCap parses an optional cap where zero or a negative value means no cap.
func queryCap(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmptyContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmbedding):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
