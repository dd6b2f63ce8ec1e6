// Package semantic implements the vector index + metadata table (spec.md
// §4.3), grounded on
// original_source/backend/memory/semantic_store.py, adapted to store raw
// vector bytes in the metadata row (per spec.md §4.3's explicit wording)
// so a rebuild never needs to re-invoke the embedder.
package semantic

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/semantic/ann"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	metadata TEXT NOT NULL,
	vector_id INTEGER NOT NULL UNIQUE,
	vector BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_vector_id ON embeddings(vector_id);
`

// Result is one search_text hit (spec.md §4.3).
type Result struct {
	Text           string
	Metadata       map[string]any
	VectorID       int64
	Distance       float32
	SimilarityScore float64
}

// Store is the semantic store: an ANN index plus a sqlite metadata table
// kept in lockstep.
type Store struct {
	db        *sqlx.DB
	index     ann.Index
	embedder  Embedder
	indexPath string
	mu        sync.Mutex
	logger    *zap.Logger
}

type row struct {
	ID       int64  `db:"id"`
	Text     string `db:"text"`
	Metadata string `db:"metadata"`
	VectorID int64  `db:"vector_id"`
	Vector   []byte `db:"vector"`
}

// Open opens (or creates) the metadata database at dbPath and the ANN
// index at indexPath. If the index file is missing or fails to load, and
// the metadata table is non-empty, the index is rebuilt from the stored
// vector bytes (spec.md §4.3: "rebuilds the index from stored vectors").
func Open(dbPath, indexPath string, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("semantic: mkdir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic: init schema: %w", err)
	}

	s := &Store{db: db, embedder: embedder, indexPath: indexPath, logger: logger}

	dimension := embedder.Dimension()
	index, err := ann.NewFlatL2Index(dimension)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic: new index: %w", err)
	}
	s.index = index

	if err := index.Load(indexPath); err != nil {
		if rebuildErr := s.rebuildIndexFromDB(); rebuildErr != nil {
			logger.Warn("semantic: index rebuild failed; starting empty", zap.Error(rebuildErr))
		}
	}

	return s, nil
}

// Close releases the metadata database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func (s *Store) rebuildIndexFromDB() error {
	var rows []row
	if err := s.db.Select(&rows, `SELECT id, text, metadata, vector_id, vector FROM embeddings ORDER BY vector_id ASC`); err != nil {
		return fmt.Errorf("semantic: select for rebuild: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	fresh, err := ann.NewFlatL2Index(s.embedder.Dimension())
	if err != nil {
		return err
	}
	for _, r := range rows {
		vec := decodeVector(r.Vector)
		if _, err := fresh.Add(vec); err != nil {
			return fmt.Errorf("semantic: rebuild add: %w", err)
		}
	}
	s.index = fresh
	s.logger.Info("semantic: rebuilt index from metadata", zap.Int("rows", len(rows)))
	return nil
}

func (s *Store) persistIndexBestEffort() {
	if err := s.index.Save(s.indexPath); err != nil {
		s.logger.Warn("semantic: persist index failed", zap.Error(err))
	}
}

// Add embeds text, inserts it into the ANN index and the metadata table
// (spec.md §4.3: "single logical transaction; the index file and metadata
// row must agree after a successful return"), and returns its vector_id.
func (s *Store) Add(text string, metadata map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vector, err := s.embedder.Embed(text)
	if err != nil {
		return 0, fmt.Errorf("semantic: embed: %w", err)
	}

	vectorID, err := s.index.Add(vector)
	if err != nil {
		return 0, fmt.Errorf("semantic: index add: %w", err)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("semantic: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO embeddings (text, metadata, vector_id, vector) VALUES (?, ?, ?, ?)`,
		text, string(metaJSON), vectorID, encodeVector(vector))
	if err != nil {
		return 0, fmt.Errorf("semantic: insert metadata: %w", err)
	}

	s.persistIndexBestEffort()
	return vectorID, nil
}

// l2DistanceToSimilarity maps an L2 distance to a [0,1] similarity score
// (spec.md I4: "1/(1+L2_distance) is the canonical mapping").
func l2DistanceToSimilarity(distance float32) float64 {
	if math.IsNaN(float64(distance)) || math.IsInf(float64(distance), 0) {
		return 0.0
	}
	d := float64(distance)
	if d < 0 {
		d = 0
	}
	sim := 1.0 / (1.0 + d)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// SearchText embeds query and returns results ordered by
// (-similarity, vector_id) (spec.md §4.3, §8). An empty store returns []
// with no error.
func (s *Store) SearchText(query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	s.mu.Lock()
	neighbors, err := s.index.Search(vector, topK)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	if len(neighbors) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		var r row
		if err := s.db.Get(&r, `SELECT id, text, metadata, vector_id, vector FROM embeddings WHERE vector_id = ?`, n.ID); err != nil {
			continue // metadata row missing: skip rather than fail the whole search
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(r.Metadata), &meta)
		results = append(results, Result{
			Text:            r.Text,
			Metadata:        meta,
			VectorID:        r.VectorID,
			Distance:        n.Distance,
			SimilarityScore: l2DistanceToSimilarity(n.Distance),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].VectorID < results[j].VectorID
	})

	return results, nil
}
