// Package search implements the query engine: BM25 with field boosts and
// a PageRank blend, semantic ranking over cached embeddings, and
// Reciprocal Rank Fusion between the two.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/index"
)

// Search modes.
const (
	ModeBM25     = "bm25"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// ErrNoEmbedder is returned when a semantic or hybrid query arrives but
// no embedding provider is configured.
var ErrNoEmbedder = errors.New("no embedding provider configured")

// Params holds the ranking constants.
type Params struct {
	K1           float64
	B            float64
	TitleBoost   float64
	ContentBoost float64
	PRWeight     float64
}

// DefaultParams returns the reference ranking constants.
func DefaultParams() Params {
	return Params{
		K1:           1.2,
		B:            0.75,
		TitleBoost:   3.0,
		ContentBoost: 1.0,
		PRWeight:     0.5,
	}
}

// Request is one search invocation.
type Request struct {
	Query   string
	Page    int
	PerPage int
	Mode    string
}

// Hit is one ranked result.
type Hit struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Result is a ranked, paginated result set.
type Result struct {
	Query    string `json:"query"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	LastPage int    `json:"last_page"`
	Hits     []Hit  `json:"hits"`
}

// Engine executes queries against the inverted index.
type Engine struct {
	db       *database.DB
	analyzer *analyzer.Analyzer
	params   Params
	semantic *SemanticIndex
}

// NewEngine creates a query engine. semantic may be nil when no embedding
// provider is configured; semantic and hybrid queries then fail with
// ErrNoEmbedder.
func NewEngine(db *database.DB, an *analyzer.Analyzer, params Params, semantic *SemanticIndex) *Engine {
	return &Engine{db: db, analyzer: an, params: params, semantic: semantic}
}

// Search runs the query in the requested mode and paginates the ranking.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	req = normalizeRequest(req)

	var (
		ranking []scored
		err     error
	)

	switch req.Mode {
	case ModeBM25, "":
		ranking, err = e.rankBM25(ctx, req.Query)
	case ModeSemantic:
		ranking, err = e.rankSemantic(ctx, req.Query, req.Page*req.PerPage)
	case ModeHybrid:
		ranking, err = e.rankHybrid(ctx, req)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	return e.paginate(ctx, req, ranking)
}

// scored is one candidate with its ranking score.
type scored struct {
	url   string
	score float64
}

// rankBM25 computes the full BM25+PageRank ranking for the query.
// Multi-token queries use AND logic: no intersection, no results.
func (e *Engine) rankBM25(ctx context.Context, query string) ([]scored, error) {
	tokens := e.analyzer.Analyze(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	postings, err := e.loadPostings(ctx, tokens)
	if err != nil {
		return nil, err
	}

	candidates := intersect(postings, tokens)
	if len(candidates) == 0 {
		return nil, nil
	}

	stats, err := e.loadStats(ctx, tokens)
	if err != nil {
		return nil, err
	}

	wordCounts, err := e.loadWordCounts(ctx, candidates)
	if err != nil {
		return nil, err
	}

	pageRanks, err := e.loadPageRanks(ctx, candidates)
	if err != nil {
		return nil, err
	}

	ranking := make([]scored, 0, len(candidates))
	for _, url := range candidates {
		bm25 := e.scoreBM25(url, tokens, postings, stats, float64(wordCounts[url]))
		ranking = append(ranking, scored{
			url:   url,
			score: bm25 + e.params.PRWeight*pageRanks[url],
		})
	}

	sortRanking(ranking)
	return ranking, nil
}

// scoreBM25 sums the per-token, per-field contributions for one document.
func (e *Engine) scoreBM25(
	url string,
	tokens []string,
	postings map[string]map[string]fieldFreqs,
	stats indexStats,
	wordCount float64,
) float64 {
	avgLen := stats.avgDocLength
	if avgLen <= 0 {
		avgLen = 1
	}
	lengthNorm := 1 - e.params.B + e.params.B*(wordCount/avgLen)

	total := 0.0
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		df := float64(stats.docFreq[token])
		idf := math.Log((float64(stats.totalDocs)-df+0.5)/(df+0.5) + 1)

		freqs := postings[token][url]
		total += idf * e.termContribution(float64(freqs.title), lengthNorm) * e.params.TitleBoost
		total += idf * e.termContribution(float64(freqs.content), lengthNorm) * e.params.ContentBoost
	}

	return total
}

// termContribution is the saturating tf term of BM25.
func (e *Engine) termContribution(tf, lengthNorm float64) float64 {
	if tf == 0 {
		return 0
	}
	return (tf * (e.params.K1 + 1)) / (tf + e.params.K1*lengthNorm)
}

// fieldFreqs holds a token's term frequency in each field of a document.
type fieldFreqs struct {
	title   int
	content int
}

// loadPostings reads inverted-index rows for the query tokens, keyed
// token -> url -> field frequencies.
func (e *Engine) loadPostings(ctx context.Context, tokens []string) (map[string]map[string]fieldFreqs, error) {
	query, args, err := sqlx.In(
		`SELECT token, url, field, term_freq FROM inverted_index WHERE token IN (?)`,
		tokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build postings query: %w", err)
	}

	rows, err := e.db.QueryxContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load postings: %w", err)
	}
	defer rows.Close()

	postings := make(map[string]map[string]fieldFreqs)
	for rows.Next() {
		var token, url, field string
		var termFreq int
		if scanErr := rows.Scan(&token, &url, &field, &termFreq); scanErr != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", scanErr)
		}

		byURL, ok := postings[token]
		if !ok {
			byURL = make(map[string]fieldFreqs)
			postings[token] = byURL
		}

		freqs := byURL[url]
		if field == "title" {
			freqs.title = termFreq
		} else {
			freqs.content = termFreq
		}
		byURL[url] = freqs
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate postings: %w", rowsErr)
	}

	return postings, nil
}

// intersect returns the URLs present for every query token, sorted for
// deterministic tie handling.
func intersect(postings map[string]map[string]fieldFreqs, tokens []string) []string {
	var candidates map[string]struct{}

	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		byURL := postings[token]
		if len(byURL) == 0 {
			return nil
		}

		if candidates == nil {
			candidates = make(map[string]struct{}, len(byURL))
			for url := range byURL {
				candidates[url] = struct{}{}
			}
			continue
		}

		for url := range candidates {
			if _, ok := byURL[url]; !ok {
				delete(candidates, url)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
	}

	result := make([]string, 0, len(candidates))
	for url := range candidates {
		result = append(result, url)
	}
	sort.Strings(result)
	return result
}

// indexStats bundles global and per-token statistics for scoring.
type indexStats struct {
	totalDocs    int
	avgDocLength float64
	docFreq      map[string]int
}

// loadStats reads global index statistics and per-token document
// frequencies.
func (e *Engine) loadStats(ctx context.Context, tokens []string) (indexStats, error) {
	stats := indexStats{docFreq: make(map[string]int, len(tokens))}

	rows, err := e.db.QueryxContext(ctx, `SELECT key, value FROM index_stats`)
	if err != nil {
		return stats, fmt.Errorf("failed to load index stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value float64
		if scanErr := rows.Scan(&key, &value); scanErr != nil {
			return stats, fmt.Errorf("failed to scan index stat: %w", scanErr)
		}
		switch key {
		case index.StatTotalDocs:
			stats.totalDocs = int(value)
		case index.StatAvgDocLength:
			stats.avgDocLength = value
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return stats, fmt.Errorf("failed to iterate index stats: %w", rowsErr)
	}

	query, args, err := sqlx.In(`SELECT token, doc_freq FROM token_stats WHERE token IN (?)`, tokens)
	if err != nil {
		return stats, fmt.Errorf("failed to build token stats query: %w", err)
	}

	tokenRows, err := e.db.QueryxContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return stats, fmt.Errorf("failed to load token stats: %w", err)
	}
	defer tokenRows.Close()

	for tokenRows.Next() {
		var token string
		var docFreq int
		if scanErr := tokenRows.Scan(&token, &docFreq); scanErr != nil {
			return stats, fmt.Errorf("failed to scan token stat: %w", scanErr)
		}
		stats.docFreq[token] = docFreq
	}
	if rowsErr := tokenRows.Err(); rowsErr != nil {
		return stats, fmt.Errorf("failed to iterate token stats: %w", rowsErr)
	}

	return stats, nil
}

// loadWordCounts reads word counts for the candidate documents.
func (e *Engine) loadWordCounts(ctx context.Context, urls []string) (map[string]int, error) {
	query, args, err := sqlx.In(`SELECT url, word_count FROM documents WHERE url IN (?)`, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to build word count query: %w", err)
	}

	rows, err := e.db.QueryxContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load word counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(urls))
	for rows.Next() {
		var url string
		var wc int
		if scanErr := rows.Scan(&url, &wc); scanErr != nil {
			return nil, fmt.Errorf("failed to scan word count: %w", scanErr)
		}
		counts[url] = wc
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate word counts: %w", rowsErr)
	}

	return counts, nil
}

// loadPageRanks reads normalized page scores for the candidates; absent
// rows score zero.
func (e *Engine) loadPageRanks(ctx context.Context, urls []string) (map[string]float64, error) {
	query, args, err := sqlx.In(`SELECT url, score FROM page_ranks WHERE url IN (?)`, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to build page rank query: %w", err)
	}

	rows, err := e.db.QueryxContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load page ranks: %w", err)
	}
	defer rows.Close()

	ranks := make(map[string]float64, len(urls))
	for rows.Next() {
		var url string
		var score float64
		if scanErr := rows.Scan(&url, &score); scanErr != nil {
			return nil, fmt.Errorf("failed to scan page rank: %w", scanErr)
		}
		ranks[url] = score
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate page ranks: %w", rowsErr)
	}

	return ranks, nil
}

// rankSemantic ranks by cosine similarity against the embedding cache.
func (e *Engine) rankSemantic(ctx context.Context, query string, topK int) ([]scored, error) {
	if e.semantic == nil {
		return nil, ErrNoEmbedder
	}

	matches, err := e.semantic.TopK(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	ranking := make([]scored, 0, len(matches))
	for _, m := range matches {
		ranking = append(ranking, scored{url: m.URL, score: m.Similarity})
	}
	return ranking, nil
}

// rrfPoolFactor sizes the per-list candidate pool for hybrid fusion.
const rrfPoolFactor = 3

// rankHybrid fuses the lexical and semantic rankings with Reciprocal
// Rank Fusion.
func (e *Engine) rankHybrid(ctx context.Context, req Request) ([]scored, error) {
	pool := rrfPoolFactor * req.Page * req.PerPage

	lexical, err := e.rankBM25(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if len(lexical) > pool {
		lexical = lexical[:pool]
	}

	semantic, err := e.rankSemantic(ctx, req.Query, pool)
	if err != nil {
		return nil, err
	}

	return fuseRRF(urlsOf(lexical), urlsOf(semantic)), nil
}

// paginate slices the ranking, fetches documents for the page, and
// builds snippets.
func (e *Engine) paginate(ctx context.Context, req Request, ranking []scored) (*Result, error) {
	total := len(ranking)
	lastPage := (total + req.PerPage - 1) / req.PerPage
	if lastPage == 0 {
		lastPage = 1
	}

	start := (req.Page - 1) * req.PerPage
	if start > total {
		start = total
	}
	end := start + req.PerPage
	if end > total {
		end = total
	}
	slice := ranking[start:end]

	result := &Result{
		Query:    req.Query,
		Total:    total,
		Page:     req.Page,
		PerPage:  req.PerPage,
		LastPage: lastPage,
		Hits:     make([]Hit, 0, len(slice)),
	}
	if len(slice) == 0 {
		return result, nil
	}

	urls := make([]string, len(slice))
	for i, s := range slice {
		urls[i] = s.url
	}

	docs, err := e.loadDocuments(ctx, urls)
	if err != nil {
		return nil, err
	}

	tokens := e.analyzer.Analyze(req.Query)
	for _, s := range slice {
		doc := docs[s.url]
		result.Hits = append(result.Hits, Hit{
			URL:     s.url,
			Title:   doc.title,
			Snippet: Snippet(doc.content, tokens, DefaultSnippetWindow),
			Score:   s.score,
		})
	}

	return result, nil
}

// docRow is the title/content pair needed to render a hit.
type docRow struct {
	title   string
	content string
}

// loadDocuments reads title and content for the page slice.
func (e *Engine) loadDocuments(ctx context.Context, urls []string) (map[string]docRow, error) {
	query, args, err := sqlx.In(`SELECT url, title, content FROM documents WHERE url IN (?)`, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to build documents query: %w", err)
	}

	rows, err := e.db.QueryxContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]docRow, len(urls))
	for rows.Next() {
		var url, title, content string
		if scanErr := rows.Scan(&url, &title, &content); scanErr != nil {
			return nil, fmt.Errorf("failed to scan document: %w", scanErr)
		}
		docs[url] = docRow{title: title, content: content}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", rowsErr)
	}

	return docs, nil
}

// sortRanking orders by score descending, ties broken by URL ascending.
func sortRanking(ranking []scored) {
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].score != ranking[j].score {
			return ranking[i].score > ranking[j].score
		}
		return ranking[i].url < ranking[j].url
	})
}

// urlsOf projects a ranking onto its URL order.
func urlsOf(ranking []scored) []string {
	urls := make([]string, len(ranking))
	for i, s := range ranking {
		urls[i] = s.url
	}
	return urls
}

// Pagination bounds.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// normalizeRequest clamps paging values and defaults the mode.
func normalizeRequest(req Request) Request {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 {
		req.PerPage = DefaultPerPage
	}
	if req.PerPage > MaxPerPage {
		req.PerPage = MaxPerPage
	}
	if req.Mode == "" {
		req.Mode = ModeBM25
	}
	return req
}
