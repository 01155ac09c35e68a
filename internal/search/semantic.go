package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quarrysearch/quarry/internal/database"
)

// Embedder turns text into a dense vector. Implementations typically
// call an external model service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache parameters.
const (
	DefaultVectorCacheTTL = 60 * time.Second
	queryCacheSize        = 1024
)

// SemanticIndex stores document embeddings and ranks by cosine
// similarity. Document vectors are cached in memory and refreshed from
// the embeddings table when the TTL lapses; query embeddings are cached
// separately so paging through results does not re-embed the query.
type SemanticIndex struct {
	db       *database.DB
	embedder Embedder
	ttl      time.Duration
	now      func() time.Time

	queryCache *expirable.LRU[string, []float32]

	mu       sync.Mutex
	vectors  []docVector
	loadedAt time.Time
}

type docVector struct {
	url string
	vec []float32
}

// NewSemanticIndex creates a semantic index backed by the embeddings
// table.
func NewSemanticIndex(db *database.DB, embedder Embedder) *SemanticIndex {
	return &SemanticIndex{
		db:         db,
		embedder:   embedder,
		ttl:        DefaultVectorCacheTTL,
		now:        time.Now,
		queryCache: expirable.NewLRU[string, []float32](queryCacheSize, nil, DefaultVectorCacheTTL),
	}
}

// SetNowFunc overrides the clock.
func (s *SemanticIndex) SetNowFunc(now func() time.Time) { s.now = now }

// UpsertEmbedding stores a document vector. The in-memory cache picks it
// up on the next refresh.
func (s *SemanticIndex) UpsertEmbedding(ctx context.Context, url string, vector []float32) error {
	query := s.db.Rebind(`
		INSERT INTO embeddings (url, vector, dims, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			vector = excluded.vector,
			dims = excluded.dims,
			updated_at = excluded.updated_at
	`)

	if _, err := s.db.ExecContext(ctx, query,
		url, EncodeVector(vector), len(vector), s.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return nil
}

// DeleteEmbedding removes a document vector.
func (s *SemanticIndex) DeleteEmbedding(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM embeddings WHERE url = ?`), url,
	); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// Match is one semantic candidate.
type Match struct {
	URL        string
	Similarity float64
}

// TopK embeds the query and returns the k most similar documents by
// cosine similarity. k <= 0 returns the full ranking.
func (s *SemanticIndex) TopK(ctx context.Context, query string, k int) ([]Match, error) {
	queryVec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	vectors, err := s.cachedVectors(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(vectors))
	for _, dv := range vectors {
		if len(dv.vec) != len(queryVec) {
			continue
		}
		matches = append(matches, Match{URL: dv.url, Similarity: Cosine(queryVec, dv.vec)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].URL < matches[j].URL
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// cachedVectors returns the document vectors, reloading from the
// database once the TTL lapses.
func (s *SemanticIndex) cachedVectors(ctx context.Context) ([]docVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vectors != nil && s.now().Sub(s.loadedAt) < s.ttl {
		return s.vectors, nil
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT url, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	vectors := make([]docVector, 0, len(s.vectors))
	for rows.Next() {
		var url string
		var blob []byte
		if scanErr := rows.Scan(&url, &blob); scanErr != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", scanErr)
		}
		vectors = append(vectors, docVector{url: url, vec: DecodeVector(blob)})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", rowsErr)
	}

	s.vectors = vectors
	s.loadedAt = s.now()
	return vectors, nil
}

// embedQuery resolves a query vector through the query cache.
func (s *SemanticIndex) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := s.queryCache.Get(query); ok {
		return vec, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.queryCache.Add(query, vec)
	return vec, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
// Zero vectors score zero.
func Cosine(a, b []float32) float64 {
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

// EncodeVector packs a float32 vector as little-endian bytes.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 vector.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
