package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/studypath/retrieval/internal/embedder"
)

// addBatchSize bounds a single insert batch; the engine rejects
// oversized parameter lists and embedding providers cap batch input.
const addBatchSize = 100

// SQLiteStore implements VectorStore on an embedded SQLite database.
// Embeddings are stored as little-endian float32 blobs and similarity
// search is a brute-force scan, which is adequate for the bounded
// corpora this service indexes.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	embedder embedder.Embedder
	metric   DistanceMetric
	repairer SchemaRepairable
	logger   *slog.Logger
}

// SQLiteConfig holds configuration for the SQLite vector store.
type SQLiteConfig struct {
	// DataDir is the directory holding the database file. Defaults to
	// ./data.
	DataDir string

	// Metric selects the distance-to-relevance conversion. Defaults to
	// cosine.
	Metric DistanceMetric

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the vector database and ensures the
// base schema exists. The returned store is shared process-wide; it is
// constructed once at startup and never re-instantiated per request.
func NewSQLiteStore(cfg SQLiteConfig, embed embedder.Embedder) (*SQLiteStore, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "vectors.db")

	// WAL mode for concurrent readers; busy timeout instead of
	// immediate SQLITE_BUSY under writer contention.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	metric := cfg.Metric
	if metric == "" {
		metric = DistanceCosine
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLiteStore{
		db:       db,
		path:     dbPath,
		embedder: embed,
		metric:   metric,
		logger:   logger,
	}
	s.repairer = NewSQLiteRepairer(db, logger)

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name       TEXT PRIMARY KEY,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`)
	return err
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// GetOrCreateCollection creates the named collection if missing.
func (s *SQLiteStore) GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling collection metadata: %w", err)
	}
	if metadata == nil {
		metaJSON = []byte("{}")
	}

	exec := func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO collections (name, metadata, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO NOTHING
		`, name, string(metaJSON), time.Now().UTC())
		return err
	}

	if err := exec(); err != nil {
		if s.repairer.TryRepair(err) {
			err = exec()
		}
		if err != nil {
			return fmt.Errorf("creating collection %q: %w", name, err)
		}
	}
	return nil
}

// Add embeds and inserts documents in batches. Documents without an ID
// receive a content-derived one; a conflicting ID replaces nothing and
// is skipped, which dedupes identical content.
func (s *SQLiteStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	if err := s.GetOrCreateCollection(ctx, collection, nil); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for start := 0; start < len(docs); start += addBatchSize {
		end := start + addBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return ids, fmt.Errorf("embedding batch: %w", err)
		}

		batchIDs, err := s.insertBatch(ctx, collection, batch, vectors)
		if err != nil {
			return ids, err
		}
		ids = append(ids, batchIDs...)
	}

	return ids, nil
}

func (s *SQLiteStore) insertBatch(ctx context.Context, collection string, batch []Document, vectors [][]float32) ([]string, error) {
	exec := func() ([]string, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		ids := make([]string, len(batch))
		now := time.Now().UTC()
		for i, doc := range batch {
			id := doc.ID
			if id == "" {
				id = ContentID(doc.Content)
			}
			ids[i] = id

			metaJSON := []byte("{}")
			if doc.Metadata != nil {
				metaJSON, err = json.Marshal(doc.Metadata)
				if err != nil {
					return nil, fmt.Errorf("marshaling metadata for %s: %w", id, err)
				}
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, content, embedding, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(collection, id) DO NOTHING
			`, collection, id, doc.Content, float32SliceToBytes(vectors[i]), string(metaJSON), now); err != nil {
				return nil, err
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing batch: %w", err)
		}
		return ids, nil
	}

	ids, err := exec()
	if err != nil && s.repairer.TryRepair(err) {
		ids, err = exec()
	}
	if err != nil {
		return nil, fmt.Errorf("inserting documents: %w", err)
	}
	return ids, nil
}

// Query embeds the query text and scans the collection for the top-k
// nearest documents. Storage errors on the read path degrade to an
// empty result after one repair attempt; only embedding failures
// surface to the caller (so it can fall back to keyword search).
func (s *SQLiteStore) Query(ctx context.Context, collection, query string, topK int, filters map[string]any) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.loadRows(ctx, collection, filters)
	if err != nil {
		s.logger.Warn("vector query degraded to empty result", "collection", collection, "error", err)
		return []Document{}, nil
	}

	type scored struct {
		doc      Document
		distance float64
	}
	candidates := make([]scored, 0, len(rows))
	for _, row := range rows {
		if len(row.embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{
			doc:      row.doc,
			distance: s.distance(queryVec, row.embedding),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	docs := make([]Document, len(candidates))
	for i, c := range candidates {
		doc := c.doc
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[MetaRelevance] = s.metric.Relevance(c.distance)
		docs[i] = doc
	}
	return docs, nil
}

// GetAll returns every document in the collection matching the filters,
// without embeddings. Read failures degrade to empty after one repair
// attempt.
func (s *SQLiteStore) GetAll(ctx context.Context, collection string, filters map[string]any) ([]Document, error) {
	rows, err := s.loadRows(ctx, collection, filters)
	if err != nil {
		s.logger.Warn("collection scan degraded to empty result", "collection", collection, "error", err)
		return []Document{}, nil
	}
	docs := make([]Document, len(rows))
	for i, row := range rows {
		docs[i] = row.doc
	}
	return docs, nil
}

// Delete removes a document by ID.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	exec := func() (sql.Result, error) {
		return s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	}
	res, err := exec()
	if err != nil && s.repairer.TryRepair(err) {
		res, err = exec()
	}
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCollection removes all documents in a collection. The collection
// itself remains and can be reused immediately.
func (s *SQLiteStore) ClearCollection(ctx context.Context, collection string) error {
	exec := func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", collection)
		return err
	}
	err := exec()
	if err != nil && s.repairer.TryRepair(err) {
		err = exec()
	}
	if err != nil {
		return fmt.Errorf("clearing collection %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

type docRow struct {
	doc       Document
	embedding []float32
}

// loadRows fetches all rows of a collection; metadata filters are
// evaluated in Go so both storage backends share one filter semantics.
func (s *SQLiteStore) loadRows(ctx context.Context, collection string, filters map[string]any) ([]docRow, error) {
	query := func() (*sql.Rows, error) {
		return s.db.QueryContext(ctx, `
			SELECT id, content, embedding, metadata
			FROM documents WHERE collection = ?
		`, collection)
	}

	rows, err := query()
	if err != nil && s.repairer.TryRepair(err) {
		rows, err = query()
	}
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []docRow
	for rows.Next() {
		var (
			doc           Document
			embeddingBlob []byte
			metadataJSON  string
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &embeddingBlob, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for %s: %w", doc.ID, err)
		}
		if len(filters) > 0 && !MatchesFilters(doc.Metadata, filters) {
			continue
		}
		out = append(out, docRow{doc: doc, embedding: bytesToFloat32Slice(embeddingBlob)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}

// distance computes the raw distance between two vectors for the
// configured metric.
func (s *SQLiteStore) distance(a, b []float32) float64 {
	if s.metric == DistanceL2 {
		var sum float64
		n := min(len(a), len(b))
		for i := 0; i < n; i++ {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	var dot, normA, normB float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0 // maximally distant
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// Ensure SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)
