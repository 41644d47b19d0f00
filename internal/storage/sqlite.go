package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/memograph/internal/models"
	"github.com/hyperjump/memograph/internal/vector"
)

// DriverName is the database/sql driver registered by this package. Connections opened
// through it have vec_cosine_similarity(a BLOB, b BLOB) available.
const DriverName = "sqlite3_memograph"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("vec_cosine_similarity", vecCosineSimilarity, true)
			},
		})
	})
}

// vecCosineSimilarity is the cosine similarity of two encoded vectors. Scores are returned
// as computed by vector.CosineSimilarity so that thresholds compare against the same value.
// A zero-magnitude operand has no direction and scores as orthogonal.
func vecCosineSimilarity(a, b []byte) (float64, error) {
	va, err := vector.Decode(a)
	if err != nil {
		return 0, err
	}
	vb, err := vector.Decode(b)
	if err != nil {
		return 0, err
	}
	sim, err := vector.CosineSimilarity(va, vb)
	if errors.Is(err, vector.ErrZeroVector) {
		return 0, nil
	}
	return sim, err
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	*Queries
	db *sql.DB
}

// Queries runs every storage statement against a DBTX, either the pool or an open transaction.
type Queries struct {
	db DBTX
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	registerDriver()

	dsn := ":memory:?_foreign_keys=on"
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = dbPath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single logical writer, and the in-memory database stays alive.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{Queries: &Queries{db: db}, db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_date TEXT NOT NULL,
		accessed_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		document_vector BLOB NOT NULL,
		source_key TEXT UNIQUE
	);

	CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(status);

	CREATE TABLE IF NOT EXISTS paragraph_vectors (
		note_id INTEGER NOT NULL,
		paragraph_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (note_id, paragraph_index),
		FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS memo_similarities (
		note_id_low INTEGER NOT NULL,
		note_id_high INTEGER NOT NULL,
		score REAL NOT NULL,
		created_time TIMESTAMP NOT NULL,
		PRIMARY KEY (note_id_low, note_id_high),
		CHECK (note_id_low < note_id_high),
		FOREIGN KEY (note_id_low) REFERENCES notes(id) ON DELETE CASCADE,
		FOREIGN KEY (note_id_high) REFERENCES notes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_similarities_high ON memo_similarities(note_id_high);
	CREATE INDEX IF NOT EXISTS idx_similarities_score ON memo_similarities(score DESC);
	`
	_, err := db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns nil.
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const noteColumns = `id, title, content, created_date, accessed_at, updated_at, status, document_vector, source_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.Note, error) {
	var n models.Note
	var blob []byte
	var sourceKey sql.NullString
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.CreatedDate, &n.AccessedAt, &n.UpdatedAt,
		&n.Status, &blob, &sourceKey); err != nil {
		return nil, err
	}
	v, err := vector.Decode(blob)
	if err != nil {
		return nil, err
	}
	n.DocumentVector = v
	n.SourceKey = sourceKey.String
	return &n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertNote inserts note and sets its ID. AccessedAt and UpdatedAt default to now.
func (q *Queries) InsertNote(ctx context.Context, note *models.Note) error {
	now := time.Now().UTC()
	if note.AccessedAt.IsZero() {
		note.AccessedAt = now
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = now
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO notes (title, content, created_date, accessed_at, updated_at, status, document_vector, source_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		note.Title, note.Content, note.CreatedDate, note.AccessedAt, note.UpdatedAt,
		note.Status, vector.Encode(note.DocumentVector), nullable(note.SourceKey),
	)
	if err != nil {
		return storageErr("insert note", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("insert note", err)
	}
	note.ID = id
	return nil
}

// GetNote returns a note by ID, or models.ErrNotFound.
func (q *Queries) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	n, err := scanNote(q.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get note", err)
	}
	return n, nil
}

// GetNoteBySourceKey returns the imported note for key, or models.ErrNotFound.
func (q *Queries) GetNoteBySourceKey(ctx context.Context, key string) (*models.Note, error) {
	n, err := scanNote(q.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE source_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note with source %q: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get note by source", err)
	}
	return n, nil
}

// GetNotes returns the notes with the given IDs keyed by ID. Missing IDs are absent from the map.
func (q *Queries) GetNotes(ctx context.Context, ids []int64) (map[int64]*models.Note, error) {
	out := make(map[int64]*models.Note, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, storageErr("get notes", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, storageErr("get notes", err)
		}
		out[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get notes", err)
	}
	return out, nil
}

// ListNotes returns notes newest first with offset and limit. limit <= 0 returns all.
func (q *Queries) ListNotes(ctx context.Context, offset, limit int) ([]*models.Note, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes ORDER BY created_date DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, storageErr("list notes", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, storageErr("list notes", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list notes", err)
	}
	return notes, nil
}

// ListNoteIDs returns every note ID in ascending order.
func (q *Queries) ListNoteIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		return nil, storageErr("list note ids", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("list note ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list note ids", err)
	}
	return ids, nil
}

func requireOne(res sql.Result, id int64, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("note %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// UpdateNoteText sets title and content and touches accessed_at and updated_at.
func (q *Queries) UpdateNoteText(ctx context.Context, id int64, title, content string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, accessed_at = ?, updated_at = ? WHERE id = ?`,
		title, content, now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return storageErr("update note", err)
	}
	return requireOne(res, id, "update note")
}

// TouchNote sets accessed_at.
func (q *Queries) TouchNote(ctx context.Context, id int64, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE notes SET accessed_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return storageErr("touch note", err)
	}
	return requireOne(res, id, "touch note")
}

// SetDocumentVector stores the derived document vector and the vectorization status.
func (q *Queries) SetDocumentVector(ctx context.Context, id int64, v []float32, status models.NoteStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE notes SET document_vector = ?, status = ? WHERE id = ?`, vector.Encode(v), status, id)
	if err != nil {
		return storageErr("set document vector", err)
	}
	return requireOne(res, id, "set document vector")
}

// DeleteNote removes a note row. It reports false when the note did not exist.
func (q *Queries) DeleteNote(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return false, storageErr("delete note", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete note", err)
	}
	return n > 0, nil
}

// ReplaceParagraphVectors deletes every paragraph vector of noteID and inserts paragraphs.
func (q *Queries) ReplaceParagraphVectors(ctx context.Context, noteID int64, paragraphs []*models.ParagraphVector) error {
	if err := q.DeleteParagraphVectors(ctx, noteID); err != nil {
		return err
	}
	for _, p := range paragraphs {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO paragraph_vectors (note_id, paragraph_index, content, vector) VALUES (?, ?, ?, ?)`,
			noteID, p.ParagraphIndex, p.Content, vector.Encode(p.Vector),
		); err != nil {
			return storageErr("insert paragraph vector", err)
		}
		p.NoteID = noteID
	}
	return nil
}

// GetParagraphVectors returns the paragraph vectors of a note ordered by index.
func (q *Queries) GetParagraphVectors(ctx context.Context, noteID int64) ([]*models.ParagraphVector, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT note_id, paragraph_index, content, vector FROM paragraph_vectors
		 WHERE note_id = ? ORDER BY paragraph_index`, noteID)
	if err != nil {
		return nil, storageErr("get paragraph vectors", err)
	}
	defer rows.Close()

	var out []*models.ParagraphVector
	for rows.Next() {
		var p models.ParagraphVector
		var blob []byte
		if err := rows.Scan(&p.NoteID, &p.ParagraphIndex, &p.Content, &blob); err != nil {
			return nil, storageErr("get paragraph vectors", err)
		}
		if p.Vector, err = vector.Decode(blob); err != nil {
			return nil, storageErr("get paragraph vectors", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get paragraph vectors", err)
	}
	return out, nil
}

// DeleteParagraphVectors removes every paragraph vector of a note.
func (q *Queries) DeleteParagraphVectors(ctx context.Context, noteID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM paragraph_vectors WHERE note_id = ?`, noteID); err != nil {
		return storageErr("delete paragraph vectors", err)
	}
	return nil
}

func scanCandidates(rows *sql.Rows, op string) ([]models.Candidate, error) {
	defer rows.Close()
	var out []models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.NoteID, &c.Score); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// ScoreAgainst scores every other vectorized note against noteID by document vector cosine.
// An unvectorized or missing noteID yields no candidates.
func (q *Queries) ScoreAgainst(ctx context.Context, noteID int64) ([]models.Candidate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT o.id, vec_cosine_similarity(s.document_vector, o.document_vector)
		 FROM notes s JOIN notes o ON o.id != s.id
		 WHERE s.id = ? AND s.status = ? AND o.status = ?
		 ORDER BY o.id`,
		noteID, models.StatusVectorized, models.StatusVectorized,
	)
	if err != nil {
		return nil, storageErr("score against", err)
	}
	return scanCandidates(rows, "score against")
}

// ScoreParagraphsAgainst scores every other vectorized note against noteID by the best
// matching pair of paragraphs.
func (q *Queries) ScoreParagraphsAgainst(ctx context.Context, noteID int64) ([]models.Candidate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT pb.note_id, MAX(vec_cosine_similarity(pa.vector, pb.vector))
		 FROM notes s
		 JOIN paragraph_vectors pa ON pa.note_id = s.id
		 JOIN paragraph_vectors pb ON pb.note_id != s.id
		 JOIN notes o ON o.id = pb.note_id
		 WHERE s.id = ? AND s.status = ? AND o.status = ?
		 GROUP BY pb.note_id
		 ORDER BY pb.note_id`,
		noteID, models.StatusVectorized, models.StatusVectorized,
	)
	if err != nil {
		return nil, storageErr("score paragraphs against", err)
	}
	return scanCandidates(rows, "score paragraphs against")
}

// ScoreVector returns the limit vectorized notes closest to v, best first.
func (q *Queries) ScoreVector(ctx context.Context, v []float32, limit int) ([]models.Candidate, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, vec_cosine_similarity(document_vector, ?) AS score
		 FROM notes WHERE status = ?
		 ORDER BY score DESC, id LIMIT ?`,
		vector.Encode(v), models.StatusVectorized, limit,
	)
	if err != nil {
		return nil, storageErr("score vector", err)
	}
	return scanCandidates(rows, "score vector")
}

// InsertEdges inserts edges. Each edge must already be in canonical orientation.
func (q *Queries) InsertEdges(ctx context.Context, edges []*models.SimilarityEdge) error {
	for _, e := range edges {
		if e.CreatedTime.IsZero() {
			e.CreatedTime = time.Now().UTC()
		}
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO memo_similarities (note_id_low, note_id_high, score, created_time) VALUES (?, ?, ?, ?)`,
			e.NoteIDLow, e.NoteIDHigh, e.Score, e.CreatedTime,
		); err != nil {
			return storageErr("insert edge", err)
		}
	}
	return nil
}

// DeleteEdgesTouching removes every edge with noteID as an endpoint and returns how many were removed.
func (q *Queries) DeleteEdgesTouching(ctx context.Context, noteID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM memo_similarities WHERE note_id_low = ? OR note_id_high = ?`, noteID, noteID)
	if err != nil {
		return 0, storageErr("delete edges", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete edges", err)
	}
	return n, nil
}

func scanEdges(rows *sql.Rows, op string) ([]*models.SimilarityEdge, error) {
	defer rows.Close()
	var out []*models.SimilarityEdge
	for rows.Next() {
		var e models.SimilarityEdge
		if err := rows.Scan(&e.NoteIDLow, &e.NoteIDHigh, &e.Score, &e.CreatedTime); err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// EdgesTouching returns the edges with noteID as an endpoint, highest score first.
func (q *Queries) EdgesTouching(ctx context.Context, noteID int64) ([]*models.SimilarityEdge, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT note_id_low, note_id_high, score, created_time FROM memo_similarities
		 WHERE note_id_low = ? OR note_id_high = ?
		 ORDER BY score DESC, note_id_low, note_id_high`, noteID, noteID)
	if err != nil {
		return nil, storageErr("edges touching", err)
	}
	return scanEdges(rows, "edges touching")
}

// TopEdges returns the limit highest scoring edges. limit <= 0 returns all edges.
func (q *Queries) TopEdges(ctx context.Context, limit int) ([]*models.SimilarityEdge, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT note_id_low, note_id_high, score, created_time FROM memo_similarities
		 ORDER BY score DESC, note_id_low, note_id_high LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("top edges", err)
	}
	return scanEdges(rows, "top edges")
}

// Stats counts notes, vectorized notes, paragraph vectors, and edges.
func (q *Queries) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	err := q.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM notes),
			(SELECT COUNT(*) FROM notes WHERE status = ?),
			(SELECT COUNT(*) FROM paragraph_vectors),
			(SELECT COUNT(*) FROM memo_similarities)`,
		models.StatusVectorized,
	).Scan(&s.Notes, &s.VectorizedNotes, &s.ParagraphVectors, &s.Edges)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	return &s, nil
}
