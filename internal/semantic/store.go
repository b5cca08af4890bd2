// Package semantic implements the persistent embedded-chunk index with
// nearest-neighbor retrieval.
//
// Chunks live in SQLite; similarity is cosine, matching the embedding
// backends' geometry. Retrieval is an exact scan over the queried
// partition, which is the right trade at the scale this store targets.
// Builds tagged sqlite_vec additionally register the sqlite-vec
// extension (see vec_sqlite.go).
package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edulab/tutor/internal/embedding"
)

// Chunk is one embedded slice of a source document. Chunks are immutable
// after insertion; updates are insert-new/delete-old.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Seq        int       `json:"seq"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Match pairs a chunk with its similarity to a query embedding.
type Match struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Stats is a read-only projection of index size.
type Stats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
}

// DocumentInfo summarizes one ingested document.
type DocumentInfo struct {
	ID         string    `json:"id"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// DimensionError reports an embedding whose dimensionality differs from
// the index. This is an integrity violation: fatal to the request,
// logged in full, never a crash.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index holds %d-dimensional vectors, got %d", e.Want, e.Got)
}

// Store is the SQLite-backed semantic index. A partition column keys
// session-scoped indexes; the empty partition is the shared knowledge
// base. Ingest and delete are serialized against queries so a query
// never observes a half-inserted document.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	partition   TEXT NOT NULL DEFAULT '',
	document_id TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   TEXT NOT NULL,
	ingested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_partition_doc ON chunks(partition, document_id);
CREATE TABLE IF NOT EXISTS index_meta (
	partition  TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL
);
`

// Open creates or opens the index at path. logger may be nil.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open semantic index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("set busy_timeout failed", "error", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("set journal_mode failed", "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize semantic schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ingest inserts a document's chunks into a partition atomically: the
// document either is or is not visible as a whole. Re-ingesting a
// document ID replaces its previous chunks.
func (s *Store) Ingest(ctx context.Context, partition, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("ingest %q: no chunks", documentID)
	}

	dims := len(chunks[0].Embedding)
	if dims == 0 {
		return fmt.Errorf("ingest %q: chunk 0 has no embedding", documentID)
	}
	for _, c := range chunks {
		if len(c.Embedding) != dims {
			return &DimensionError{Want: dims, Got: len(c.Embedding)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDimensions(ctx, partition, dims); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest %q: begin: %w", documentID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE partition = ? AND document_id = ?", partition, documentID); err != nil {
		return fmt.Errorf("ingest %q: replace old chunks: %w", documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (partition, document_id, seq, content, embedding, ingested_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("ingest %q: prepare: %w", documentID, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("ingest %q: encode embedding: %w", documentID, err)
		}
		if _, err := stmt.ExecContext(ctx, partition, documentID, i, c.Content, string(emb), now); err != nil {
			return fmt.Errorf("ingest %q: insert chunk %d: %w", documentID, i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO index_meta (partition, dimensions) VALUES (?, ?) ON CONFLICT(partition) DO UPDATE SET dimensions = excluded.dimensions",
		partition, dims); err != nil {
		return fmt.Errorf("ingest %q: record dimensions: %w", documentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ingest %q: commit: %w", documentID, err)
	}

	s.logger.Info("ingested document", "partition", partition, "document", documentID, "chunks", len(chunks))
	return nil
}

// Query returns up to k chunks from the partition ordered by descending
// cosine similarity to the query embedding. It is read-only and
// side-effect-free.
func (s *Store) Query(ctx context.Context, partition string, queryEmbedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if dims, ok, err := s.partitionDimensions(ctx, partition); err != nil {
		return nil, err
	} else if ok && dims != len(queryEmbedding) {
		return nil, &DimensionError{Want: dims, Got: len(queryEmbedding)}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, seq, content, embedding, ingested_at FROM chunks WHERE partition = ?", partition)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var c Chunk
		var embJSON string
		if err := rows.Scan(&c.DocumentID, &c.Seq, &c.Content, &embJSON, &c.IngestedAt); err != nil {
			return nil, fmt.Errorf("semantic query: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &c.Embedding); err != nil {
			return nil, fmt.Errorf("semantic query: decode embedding: %w", err)
		}

		sim, err := embedding.CosineSimilarity(queryEmbedding, c.Embedding)
		if err != nil {
			return nil, &DimensionError{Want: len(c.Embedding), Got: len(queryEmbedding)}
		}
		matches = append(matches, Match{Chunk: c, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes a document's chunks from the partition.
func (s *Store) Delete(ctx context.Context, partition, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE partition = ? AND document_id = ?", partition, documentID); err != nil {
		return fmt.Errorf("delete document %q: %w", documentID, err)
	}
	return nil
}

// Clear removes every chunk in the partition.
func (s *Store) Clear(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE partition = ?", partition); err != nil {
		return fmt.Errorf("clear partition: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM index_meta WHERE partition = ?", partition); err != nil {
		return fmt.Errorf("clear partition meta: %w", err)
	}
	return nil
}

// Stats reports document and chunk counts for the partition.
func (s *Store) Stats(ctx context.Context, partition string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT document_id), COUNT(*) FROM chunks WHERE partition = ?", partition).
		Scan(&st.DocumentCount, &st.ChunkCount)
	if err != nil {
		return Stats{}, fmt.Errorf("semantic stats: %w", err)
	}
	return st, nil
}

// Documents lists the partition's ingested documents, newest first.
func (s *Store) Documents(ctx context.Context, partition string) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, COUNT(*), MAX(ingested_at)
		 FROM chunks WHERE partition = ?
		 GROUP BY document_id ORDER BY MAX(ingested_at) DESC`, partition)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.ID, &d.ChunkCount, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("list documents: scan: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) checkDimensions(ctx context.Context, partition string, dims int) error {
	existing, ok, err := s.partitionDimensions(ctx, partition)
	if err != nil {
		return err
	}
	if ok && existing != dims {
		return &DimensionError{Want: existing, Got: dims}
	}
	return nil
}

func (s *Store) partitionDimensions(ctx context.Context, partition string) (int, bool, error) {
	var dims int
	err := s.db.QueryRowContext(ctx,
		"SELECT dimensions FROM index_meta WHERE partition = ?", partition).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read index dimensions: %w", err)
	}
	return dims, true, nil
}

// Partition is a handle binding a Store to one partition name. The
// session manager hands these out: the empty name is the shared
// knowledge base, session IDs name per-session partitions.
type Partition struct {
	store *Store
	name  string
}

// Partition returns a handle for the named partition.
func (s *Store) Partition(name string) *Partition {
	return &Partition{store: s, name: name}
}

func (p *Partition) Name() string { return p.name }

func (p *Partition) Ingest(ctx context.Context, documentID string, chunks []Chunk) error {
	return p.store.Ingest(ctx, p.name, documentID, chunks)
}

func (p *Partition) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	return p.store.Query(ctx, p.name, embedding, k)
}

func (p *Partition) Delete(ctx context.Context, documentID string) error {
	return p.store.Delete(ctx, p.name, documentID)
}

func (p *Partition) Clear(ctx context.Context) error {
	return p.store.Clear(ctx, p.name)
}

func (p *Partition) Stats(ctx context.Context) (Stats, error) {
	return p.store.Stats(ctx, p.name)
}

func (p *Partition) Documents(ctx context.Context) ([]DocumentInfo, error) {
	return p.store.Documents(ctx, p.name)
}
