package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps exact strings to canned vectors and counts calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	vec, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return vec, nil
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}), 1e-9)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	assert.Equal(t, vec, DecodeVector(EncodeVector(vec)))
	assert.Empty(t, DecodeVector(nil))
}

func TestTopKRanksBySimilarity(t *testing.T) {
	db := newTestDB(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	idx := NewSemanticIndex(db, embedder)
	ctx := context.Background()

	require.NoError(t, idx.UpsertEmbedding(ctx, "https://close.test/", []float32{0.9, 0.1}))
	require.NoError(t, idx.UpsertEmbedding(ctx, "https://far.test/", []float32{0, 1}))
	require.NoError(t, idx.UpsertEmbedding(ctx, "https://mid.test/", []float32{0.5, 0.5}))

	matches, err := idx.TopK(ctx, "query", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "https://close.test/", matches[0].URL)
	assert.Equal(t, "https://mid.test/", matches[1].URL)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestTopKSkipsMismatchedDimensions(t *testing.T) {
	db := newTestDB(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	idx := NewSemanticIndex(db, embedder)
	ctx := context.Background()

	require.NoError(t, idx.UpsertEmbedding(ctx, "https://ok.test/", []float32{1, 0}))
	require.NoError(t, idx.UpsertEmbedding(ctx, "https://wide.test/", []float32{1, 0, 0}))

	matches, err := idx.TopK(ctx, "query", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "https://ok.test/", matches[0].URL)
}

func TestTopKCachesQueryEmbeddings(t *testing.T) {
	db := newTestDB(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	idx := NewSemanticIndex(db, embedder)
	ctx := context.Background()

	require.NoError(t, idx.UpsertEmbedding(ctx, "https://a.test/", []float32{1, 0}))

	_, err := idx.TopK(ctx, "query", 1)
	require.NoError(t, err)
	_, err = idx.TopK(ctx, "query", 1)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
}

func TestDocumentVectorCacheRefreshesOnTTL(t *testing.T) {
	db := newTestDB(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	idx := NewSemanticIndex(db, embedder)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	idx.SetNowFunc(func() time.Time { return now })

	require.NoError(t, idx.UpsertEmbedding(ctx, "https://a.test/", []float32{1, 0}))

	matches, err := idx.TopK(ctx, "query", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// A new document is invisible while the cache is fresh.
	require.NoError(t, idx.UpsertEmbedding(ctx, "https://b.test/", []float32{0.5, 0.5}))
	matches, err = idx.TopK(ctx, "query", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	// After the TTL the cache reloads and picks it up.
	now = base.Add(DefaultVectorCacheTTL + time.Second)
	matches, err = idx.TopK(ctx, "query", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestDeleteEmbedding(t *testing.T) {
	db := newTestDB(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	idx := NewSemanticIndex(db, embedder)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	idx.SetNowFunc(func() time.Time { return now })

	require.NoError(t, idx.UpsertEmbedding(ctx, "https://a.test/", []float32{1, 0}))
	require.NoError(t, idx.DeleteEmbedding(ctx, "https://a.test/"))

	matches, err := idx.TopK(ctx, "query", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
