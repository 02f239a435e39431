// Package knowledge persists learned notes in SQLite with vector
// embeddings for semantic retrieval. When the sqlite-vec extension is
// available (sqlite_vec build tag) search uses its ANN index; otherwise
// it falls back to a brute-force cosine scan over stored embeddings.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Embedder turns text into a vector. *embeddings.Client satisfies it.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one note returned by Search, best match first.
type SearchResult struct {
	ID         int64
	Content    string
	Metadata   map[string]any
	Similarity float64
}

// Store is the knowledge base. Safe for concurrent use.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger

	mu      sync.Mutex
	vecDims map[int]bool // dimensions with a live vec index
}

// Open creates or opens the knowledge base at dbPath. A nil embedder
// disables semantic indexing; notes are still stored and deduplicated.
func Open(dbPath string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("knowledge database path required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create knowledge directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify knowledge database: %w", err)
	}

	s := &Store{db: db, embedder: embedder, logger: logger, vecDims: map[int]bool{}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		content_hash TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_hash ON notes(content_hash);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create notes schema: %w", err)
	}
	return nil
}

// vecTableName keys the vec0 table by embedding dimension so that
// switching embedding models never writes into an index built for a
// different dimension.
func vecTableName(dim int) string {
	return fmt.Sprintf("vec_notes_%d", dim)
}

// ensureVecTable creates the vec0 virtual table for the given embedding
// dimension once. Failure is not fatal: search degrades to the
// brute-force scan.
func (s *Store) ensureVecTable(dim int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vecDims[dim] {
		return true
	}
	query := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d], note_id INTEGER)",
		vecTableName(dim), dim)
	if _, err := s.db.Exec(query); err != nil {
		s.logger.Debug("sqlite-vec unavailable, using brute-force search", "error", err)
		return false
	}
	s.vecDims[dim] = true
	return true
}

// Add stores a note. The content hash in meta["content_hash"] (or a
// hash of the content itself when absent) deduplicates across runs: an
// already-stored note is a silent success. Embedding failures degrade
// to storing the note without a vector.
func (s *Store) Add(ctx context.Context, content string, meta map[string]any) error {
	if content == "" {
		return fmt.Errorf("empty note content")
	}
	if meta == nil {
		meta = map[string]any{}
	}

	hash, _ := meta["content_hash"].(string)
	if hash == "" {
		hash = fallbackHash(content)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal note metadata: %w", err)
	}

	var embedding []float32
	if s.embedder != nil {
		embedding, err = s.embedder.Generate(ctx, content)
		if err != nil {
			s.logger.Warn("embedding failed, storing note without vector", "error", err)
			embedding = nil
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notes (content, metadata, content_hash, embedding) VALUES (?, ?, ?, ?)`,
		content, string(metaJSON), hash, encodeVector(embedding))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		// Hash conflict: the note is already known.
		return nil
	}

	if len(embedding) > 0 && s.ensureVecTable(len(embedding)) {
		id, err := res.LastInsertId()
		if err == nil {
			insert := fmt.Sprintf(
				"INSERT INTO %s (embedding, note_id) VALUES (?, ?)", vecTableName(len(embedding)))
			if _, err := s.db.ExecContext(ctx, insert,
				encodeVector(embedding), id); err != nil {
				s.logger.Debug("vec index insert failed", "error", err)
			}
		}
	}
	return nil
}

// HasHash reports whether a note with the given content hash exists.
func (s *Store) HasHash(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE content_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query hash: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored notes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// Search returns the topK notes most similar to the query.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured; semantic search unavailable")
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if results, err := s.searchVec(ctx, queryVec, topK); err == nil {
		return results, nil
	} else {
		s.logger.Debug("vec search failed, falling back to scan", "error", err)
	}
	return s.searchScan(ctx, queryVec, topK)
}

// searchVec runs an ANN query through the vec0 index matching the
// query vector's dimension.
func (s *Store) searchVec(ctx context.Context, queryVec []float32, topK int) ([]SearchResult, error) {
	s.mu.Lock()
	indexed := s.vecDims[len(queryVec)]
	s.mu.Unlock()
	if !indexed {
		return nil, fmt.Errorf("no vec index for dimension %d", len(queryVec))
	}

	query := fmt.Sprintf(`
		SELECT n.id, n.content, n.metadata,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM %s v
		JOIN notes n ON n.id = v.note_id
		ORDER BY distance ASC
		LIMIT ?`, vecTableName(len(queryVec)))
	rows, err := s.db.QueryContext(ctx, query, encodeVector(queryVec), topK)
	if err != nil {
		return nil, fmt.Errorf("vec search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metaJSON string
		var distance float64
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &distance); err != nil {
			continue
		}
		r.Metadata = decodeMetadata(metaJSON)
		r.Similarity = 1 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchScan is the brute-force fallback: decode every stored
// embedding and rank by cosine similarity.
func (s *Store) searchScan(ctx context.Context, queryVec []float32, topK int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM notes WHERE embedding IS NOT NULL AND length(embedding) > 0`)
	if err != nil {
		return nil, fmt.Errorf("scan notes: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metaJSON string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &blob); err != nil {
			continue
		}
		vec := decodeVector(blob)
		if len(vec) != len(queryVec) {
			continue
		}
		r.Metadata = decodeMetadata(metaJSON)
		r.Similarity = cosine(queryVec, vec)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeVector packs a float32 slice into the little-endian blob
// format sqlite-vec expects. Nil input yields a nil blob.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func decodeMetadata(metaJSON string) map[string]any {
	meta := map[string]any{}
	_ = json.Unmarshal([]byte(metaJSON), &meta)
	return meta
}

// fallbackHash fingerprints content when the caller supplied no hash.
func fallbackHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
