// Package index maintains the inverted index and its statistics. Each
// document is written under one transaction: readers see either the old
// or the new posting set, never a mix.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

// Global statistic keys.
const (
	StatTotalDocs    = "total_docs"
	StatAvgDocLength = "avg_doc_length"
)

// Writer builds inverted-index entries and keeps token and global
// statistics consistent.
type Writer struct {
	db       *database.DB
	analyzer *analyzer.Analyzer
	now      func() time.Time
}

// NewWriter creates an index writer.
func NewWriter(db *database.DB, an *analyzer.Analyzer) *Writer {
	return &Writer{db: db, analyzer: an, now: time.Now}
}

// IndexDocument analyzes title and content, upserts the document row,
// replaces its postings, and refreshes token and global statistics. The
// whole operation is one transaction.
func (w *Writer) IndexDocument(ctx context.Context, url, title, content string) error {
	titleTokens := w.analyzer.Analyze(title)
	contentTokens := w.analyzer.Analyze(content)

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	touched, err := w.tokensOf(ctx, tx, url)
	if err != nil {
		return err
	}

	if upsertErr := w.upsertDocument(ctx, tx, url, title, content, len(contentTokens)); upsertErr != nil {
		return upsertErr
	}

	// Delete-then-insert guarantees no stale postings for removed tokens.
	if _, delErr := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM inverted_index WHERE url = ?`), url,
	); delErr != nil {
		return fmt.Errorf("failed to clear postings: %w", delErr)
	}

	for _, entry := range buildPostings(url, domain.FieldTitle, titleTokens) {
		touched[entry.Token] = struct{}{}
		if insErr := insertPosting(ctx, tx, entry); insErr != nil {
			return insErr
		}
	}
	for _, entry := range buildPostings(url, domain.FieldContent, contentTokens) {
		touched[entry.Token] = struct{}{}
		if insErr := insertPosting(ctx, tx, entry); insErr != nil {
			return insErr
		}
	}

	if statsErr := refreshTokenStats(ctx, tx, touched); statsErr != nil {
		return statsErr
	}
	if globalErr := refreshGlobalStats(ctx, tx); globalErr != nil {
		return globalErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit index transaction: %w", commitErr)
	}

	return nil
}

// DeleteDocument removes a document, its postings, and its edges, then
// refreshes statistics.
func (w *Writer) DeleteDocument(ctx context.Context, url string) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	touched, err := w.tokensOf(ctx, tx, url)
	if err != nil {
		return err
	}

	for _, query := range []string{
		`DELETE FROM inverted_index WHERE url = ?`,
		`DELETE FROM documents WHERE url = ?`,
		`DELETE FROM link_edges WHERE src_url = ?`,
	} {
		if _, delErr := tx.ExecContext(ctx, tx.Rebind(query), url); delErr != nil {
			return fmt.Errorf("failed to delete document rows: %w", delErr)
		}
	}

	if statsErr := refreshTokenStats(ctx, tx, touched); statsErr != nil {
		return statsErr
	}
	if globalErr := refreshGlobalStats(ctx, tx); globalErr != nil {
		return globalErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit delete transaction: %w", commitErr)
	}

	return nil
}

// ReplaceOutlinks rewrites the outgoing edges of src. Edges feed the
// PageRank jobs.
func (w *Writer) ReplaceOutlinks(ctx context.Context, src string, dsts []string) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin edge transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, delErr := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM link_edges WHERE src_url = ?`), src,
	); delErr != nil {
		return fmt.Errorf("failed to clear outlinks: %w", delErr)
	}

	insert := tx.Rebind(`
		INSERT INTO link_edges (src_url, dst_url) VALUES (?, ?)
		ON CONFLICT (src_url, dst_url) DO NOTHING
	`)
	for _, dst := range dsts {
		if dst == src {
			continue
		}
		if _, insErr := tx.ExecContext(ctx, insert, src, dst); insErr != nil {
			return fmt.Errorf("failed to insert link edge: %w", insErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit edge transaction: %w", commitErr)
	}

	return nil
}

// tokensOf returns the distinct tokens currently posted for url.
func (w *Writer) tokensOf(ctx context.Context, tx *sqlx.Tx, url string) (map[string]struct{}, error) {
	var tokens []string
	err := tx.SelectContext(ctx, &tokens,
		tx.Rebind(`SELECT DISTINCT token FROM inverted_index WHERE url = ?`), url)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing tokens: %w", err)
	}

	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set, nil
}

// upsertDocument writes the document row; word_count is the content
// token count.
func (w *Writer) upsertDocument(
	ctx context.Context,
	tx *sqlx.Tx,
	url, title, content string,
	wordCount int,
) error {
	query := tx.Rebind(`
		INSERT INTO documents (url, title, content, content_hash, word_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash,
			word_count = excluded.word_count,
			indexed_at = excluded.indexed_at
	`)

	if _, err := tx.ExecContext(ctx, query,
		url, title, content, domain.ContentHash(content), wordCount, w.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// buildPostings folds an ordered token list into one posting per
// distinct token, with term frequency and token offsets.
func buildPostings(url, field string, tokens []string) []domain.Posting {
	byToken := make(map[string]*domain.Posting)
	order := make([]string, 0, len(tokens))

	for pos, token := range tokens {
		entry, ok := byToken[token]
		if !ok {
			entry = &domain.Posting{Token: token, URL: url, Field: field}
			byToken[token] = entry
			order = append(order, token)
		}
		entry.TermFreq++
		entry.Positions = append(entry.Positions, pos)
	}

	postings := make([]domain.Posting, 0, len(order))
	for _, token := range order {
		postings = append(postings, *byToken[token])
	}
	return postings
}

// insertPosting writes one inverted-index row.
func insertPosting(ctx context.Context, tx *sqlx.Tx, p domain.Posting) error {
	positions, err := json.Marshal(p.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}

	query := tx.Rebind(`
		INSERT INTO inverted_index (token, url, field, term_freq, positions)
		VALUES (?, ?, ?, ?, ?)
	`)

	if _, execErr := tx.ExecContext(ctx, query,
		p.Token, p.URL, p.Field, p.TermFreq, string(positions),
	); execErr != nil {
		return fmt.Errorf("failed to insert posting: %w", execErr)
	}

	return nil
}

// refreshTokenStats recomputes doc_freq for every touched token. A token
// with no remaining postings is removed from the stats table.
func refreshTokenStats(ctx context.Context, tx *sqlx.Tx, touched map[string]struct{}) error {
	countQuery := tx.Rebind(`SELECT COUNT(DISTINCT url) FROM inverted_index WHERE token = ?`)
	upsertQuery := tx.Rebind(`
		INSERT INTO token_stats (token, doc_freq) VALUES (?, ?)
		ON CONFLICT (token) DO UPDATE SET doc_freq = excluded.doc_freq
	`)
	deleteQuery := tx.Rebind(`DELETE FROM token_stats WHERE token = ?`)

	for token := range touched {
		var docFreq int
		if err := tx.GetContext(ctx, &docFreq, countQuery, token); err != nil {
			return fmt.Errorf("failed to count doc freq: %w", err)
		}

		if docFreq == 0 {
			if _, err := tx.ExecContext(ctx, deleteQuery, token); err != nil {
				return fmt.Errorf("failed to delete token stats: %w", err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, upsertQuery, token, docFreq); err != nil {
			return fmt.Errorf("failed to upsert token stats: %w", err)
		}
	}

	return nil
}

// refreshGlobalStats recomputes total_docs and avg_doc_length.
func refreshGlobalStats(ctx context.Context, tx *sqlx.Tx) error {
	var totalDocs int
	if err := tx.GetContext(ctx, &totalDocs, `SELECT COUNT(*) FROM documents`); err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	var avgLength float64
	if totalDocs > 0 {
		err := tx.GetContext(ctx, &avgLength, `SELECT AVG(word_count) FROM documents`)
		if err != nil {
			return fmt.Errorf("failed to average document length: %w", err)
		}
	}

	upsert := tx.Rebind(`
		INSERT INTO index_stats (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`)

	if _, err := tx.ExecContext(ctx, upsert, StatTotalDocs, float64(totalDocs)); err != nil {
		return fmt.Errorf("failed to upsert total docs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, StatAvgDocLength, avgLength); err != nil {
		return fmt.Errorf("failed to upsert avg doc length: %w", err)
	}

	return nil
}
