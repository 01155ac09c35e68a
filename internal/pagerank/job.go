package pagerank

import (
	"context"
	"fmt"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// Job recomputes the page and domain rank tables from the link graph.
// Each run rewrites its output table under one transaction; on error the
// previous snapshot stays intact.
type Job struct {
	db  *database.DB
	log logger.Logger
}

// NewJob creates a PageRank job.
func NewJob(db *database.DB, log logger.Logger) *Job {
	return &Job{db: db, log: log}
}

// RunPageRank computes page-level PageRank over indexed documents and
// rewrites the page_ranks table.
func (j *Job) RunPageRank(ctx context.Context) error {
	var nodes []string
	if err := j.db.SelectContext(ctx, &nodes, `SELECT url FROM documents`); err != nil {
		return fmt.Errorf("failed to load document nodes: %w", err)
	}

	edges, err := j.loadEdges(ctx)
	if err != nil {
		return err
	}

	scores := Compute(nodes, edges)

	if writeErr := j.rewriteScores(ctx, "page_ranks", "url", scores); writeErr != nil {
		return writeErr
	}

	j.log.Info("page rank recomputed", logger.Int("pages", len(scores)))
	return nil
}

// RunDomainRank computes domain-level PageRank: nodes are document
// hosts, edges are distinct cross-domain host pairs (intra-domain edges
// dropped, multi-edges collapsed).
func (j *Job) RunDomainRank(ctx context.Context) error {
	var docURLs []string
	if err := j.db.SelectContext(ctx, &docURLs, `SELECT url FROM documents`); err != nil {
		return fmt.Errorf("failed to load document nodes: %w", err)
	}

	hostSet := make(map[string]struct{}, len(docURLs))
	hosts := make([]string, 0, len(docURLs))
	for _, u := range docURLs {
		host := urlstore.HostOf(u)
		if host == "" {
			continue
		}
		if _, seen := hostSet[host]; !seen {
			hostSet[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}

	edges, err := j.loadEdges(ctx)
	if err != nil {
		return err
	}

	pairSet := make(map[[2]string]struct{})
	hostEdges := make([]Edge, 0, len(edges))
	for _, e := range edges {
		srcHost := urlstore.HostOf(e.Src)
		dstHost := urlstore.HostOf(e.Dst)
		if srcHost == "" || dstHost == "" || srcHost == dstHost {
			continue
		}

		pair := [2]string{srcHost, dstHost}
		if _, seen := pairSet[pair]; seen {
			continue
		}
		pairSet[pair] = struct{}{}
		hostEdges = append(hostEdges, Edge{Src: srcHost, Dst: dstHost})
	}

	scores := Compute(hosts, hostEdges)

	if writeErr := j.rewriteScores(ctx, "domain_ranks", "domain", scores); writeErr != nil {
		return writeErr
	}

	j.log.Info("domain rank recomputed", logger.Int("domains", len(scores)))
	return nil
}

// loadEdges reads the full link table.
func (j *Job) loadEdges(ctx context.Context) ([]Edge, error) {
	rows, err := j.db.QueryxContext(ctx, `SELECT src_url, dst_url FROM link_edges`)
	if err != nil {
		return nil, fmt.Errorf("failed to load link edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if scanErr := rows.Scan(&e.Src, &e.Dst); scanErr != nil {
			return nil, fmt.Errorf("failed to scan link edge: %w", scanErr)
		}
		edges = append(edges, e)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate link edges: %w", rowsErr)
	}

	return edges, nil
}

// rewriteScores atomically replaces a rank table's contents.
func (j *Job) rewriteScores(ctx context.Context, table, keyColumn string, scores map[string]float64) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rank rewrite: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, delErr := tx.ExecContext(ctx, "DELETE FROM "+table); delErr != nil {
		return fmt.Errorf("failed to clear %s: %w", table, delErr)
	}

	insert := tx.Rebind(
		"INSERT INTO " + table + " (" + keyColumn + ", score) VALUES (?, ?)",
	)
	for key, score := range scores {
		if _, insErr := tx.ExecContext(ctx, insert, key, score); insErr != nil {
			return fmt.Errorf("failed to insert %s row: %w", table, insErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit %s rewrite: %w", table, commitErr)
	}

	return nil
}
