package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/akhenakh/rankfuse/internal/util"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNoVectorTable = errors.New("vector table not initialized, run embed first")
	ErrEmptyQuery    = errors.New("query has no searchable terms")

	loadVec sync.Once
)

type Store struct {
	DB     *sql.DB
	DBPath string

	vecDim int
}

func NewStore(dbPath string) (*Store, error) {
	loadVec.Do(sqlite_vec.Auto)

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{DB: db, DBPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadVectorDim(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS content (
			hash TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			modified_at TEXT NOT NULL,
			FOREIGN KEY (hash) REFERENCES content(hash) ON DELETE CASCADE,
			UNIQUE(collection, doc_id)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			doc_id, body,
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents
		 BEGIN
			INSERT INTO documents_fts(rowid, doc_id, body)
			SELECT new.id, new.doc_id, (SELECT doc FROM content WHERE hash = new.hash);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents
		 BEGIN
			DELETE FROM documents_fts WHERE rowid = old.id;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents
		 BEGIN
			DELETE FROM documents_fts WHERE rowid = old.id;
			INSERT INTO documents_fts(rowid, doc_id, body)
			SELECT new.id, new.doc_id, (SELECT doc FROM content WHERE hash = new.hash);
		 END`,
		`CREATE TABLE IF NOT EXISTS content_vectors (
			hash TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (hash, seq)
		)`,
	}

	for _, q := range queries {
		if _, err := s.DB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadVectorDim() error {
	var value string
	err := s.DB.QueryRow(`SELECT value FROM meta WHERE key = 'vector_dim'`).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("corrupt vector_dim %q: %w", value, err)
	}
	s.vecDim = dim
	return nil
}

// EnsureVectorTable creates the vec0 table for dim dimensions. The
// dimension is fixed once vectors exist; asking for another one fails.
func (s *Store) EnsureVectorTable(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	if s.vecDim != 0 && s.vecDim != dim {
		return fmt.Errorf("vector table has %d dimensions, config asks for %d", s.vecDim, dim)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vectors_vec USING vec0(
		hash_seq TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, dim))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('vector_dim', ?)`, strconv.Itoa(dim))
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.vecDim = dim
	return nil
}

// VectorDim returns the configured vector dimension, 0 when unset.
func (s *Store) VectorDim() int { return s.vecDim }

func (s *Store) IndexDocument(collection, id, content string) error {
	hash := util.HashContent(content)
	now := time.Now().Format(time.RFC3339)

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR IGNORE INTO content (hash, doc, created_at) VALUES (?, ?, ?)`, hash, content, now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO documents (collection, doc_id, hash, modified_at, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(collection, doc_id) DO UPDATE SET
			hash=excluded.hash,
			modified_at=excluded.modified_at,
			active=1
	`, collection, id, hash, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

type SearchResult struct {
	Collection string
	DocID      string
	Snippet    string
	Score      float64
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms so user
// input cannot inject FTS syntax.
func ftsQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SearchFTS returns the best BM25 matches. Scores are negated bm25 so that
// higher is better.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT
			d.collection,
			d.doc_id,
			snippet(documents_fts, 1, '<b>', '</b>', '...', 10),
			-bm25(documents_fts)
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.active = 1
		ORDER BY bm25(documents_fts)
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Collection, &r.DocID, &r.Snippet, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) SaveEmbedding(hash string, seq int, vec []float32) error {
	if s.vecDim == 0 {
		return ErrNoVectorTable
	}
	if len(vec) != s.vecDim {
		return fmt.Errorf("embedding has %d dimensions, table expects %d", len(vec), s.vecDim)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s_%d", hash, seq)

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR IGNORE INTO content_vectors (hash, seq) VALUES (?, ?)`, hash, seq)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO vectors_vec (hash_seq, embedding) VALUES (?, ?)`, key, blob)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// SearchVec returns the nearest passages by cosine similarity, best chunk
// per passage.
func (s *Store) SearchVec(ctx context.Context, queryVec []float32, limit int) ([]SearchResult, error) {
	if s.vecDim == 0 {
		return nil, ErrNoVectorTable
	}
	queryBlob, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		WITH knn AS (
			SELECT hash_seq, distance
			FROM vectors_vec
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT
			d.collection,
			d.doc_id,
			substr(c.doc, 1, 200),
			MIN(knn.distance)
		FROM knn
		JOIN content_vectors cv ON knn.hash_seq = cv.hash || '_' || cv.seq
		JOIN documents d ON d.hash = cv.hash AND d.active = 1
		JOIN content c ON c.hash = d.hash
		GROUP BY d.collection, d.doc_id
		ORDER BY MIN(knn.distance)
		LIMIT ?
	`, queryBlob, limit*4, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := rows.Scan(&r.Collection, &r.DocID, &r.Snippet, &distance); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance // distance to similarity
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) GetPendingEmbeddings() (map[string]string, error) {
	rows, err := s.DB.Query(`
		SELECT DISTINCT d.hash, c.doc
		FROM documents d
		JOIN content c ON d.hash = c.hash
		LEFT JOIN content_vectors cv ON d.hash = cv.hash
		WHERE cv.hash IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(map[string]string)
	for rows.Next() {
		var hash, body string
		if err := rows.Scan(&hash, &body); err != nil {
			return nil, err
		}
		res[hash] = body
	}
	return res, rows.Err()
}

// GetDocument retrieves the content of a passage by collection and id.
func (s *Store) GetDocument(collection, id string) (string, error) {
	var content string
	err := s.DB.QueryRow(`
		SELECT c.doc
		FROM documents d
		JOIN content c ON d.hash = c.hash
		WHERE d.collection = ? AND d.doc_id = ?
	`, collection, id).Scan(&content)

	if err == sql.ErrNoRows {
		return "", fmt.Errorf("document not found: %s/%s", collection, id)
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

type Stats struct {
	TotalDocuments int
	Collections    int
	Embeddings     int
	VectorDim      int
}

func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{VectorDim: s.vecDim}

	err := s.DB.QueryRow("SELECT COUNT(*) FROM documents WHERE active=1").Scan(&stats.TotalDocuments)
	if err != nil {
		return nil, err
	}

	err = s.DB.QueryRow("SELECT COUNT(DISTINCT collection) FROM documents WHERE active=1").Scan(&stats.Collections)
	if err != nil {
		return nil, err
	}

	if s.vecDim > 0 {
		err = s.DB.QueryRow("SELECT COUNT(*) FROM vectors_vec").Scan(&stats.Embeddings)
		if err != nil {
			return nil, err
		}
	}

	return stats, nil
}
