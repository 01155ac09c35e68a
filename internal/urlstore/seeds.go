package urlstore

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

// ErrNoTrancoCSV is returned when the Tranco ZIP contains no CSV entry.
var ErrNoTrancoCSV = errors.New("tranco archive contains no CSV file")

// trancoColumns is the expected (rank, domain) column count per CSV row.
const trancoColumns = 2

// SeedStore handles the durable set of entry-point URLs. Seeds are kept
// apart from the URL lifecycle so clearing crawl history keeps them.
type SeedStore struct {
	urls *Store
	now  func() time.Time
}

// NewSeedStore creates a seed store sharing the URL store's connection.
func NewSeedStore(urls *Store) *SeedStore {
	return &SeedStore{urls: urls, now: time.Now}
}

// Add inserts seed URLs, skipping ones already present. Returns the count
// of newly added seeds.
func (s *SeedStore) Add(ctx context.Context, urls []string) (int, error) {
	added := 0
	now := s.now().UTC()

	query := s.urls.db.Rebind(`INSERT INTO seeds (url, added_at) VALUES (?, ?)`)

	for _, rawURL := range urls {
		if !ValidURL(rawURL) {
			return added, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
		}

		_, err := s.urls.db.ExecContext(ctx, query, rawURL, now)
		if err != nil {
			if database.IsUniqueViolation(err) {
				continue
			}
			return added, fmt.Errorf("failed to insert seed: %w", err)
		}
		added++
	}

	return added, nil
}

// Remove deletes seed URLs. Returns the count removed.
func (s *SeedStore) Remove(ctx context.Context, urls []string) (int, error) {
	query := s.urls.db.Rebind(`DELETE FROM seeds WHERE url = ?`)

	removed := 0
	for _, rawURL := range urls {
		result, err := s.urls.db.ExecContext(ctx, query, rawURL)
		if err != nil {
			return removed, fmt.Errorf("failed to delete seed: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			removed++
		}
	}

	return removed, nil
}

// List returns all seeds ordered by insertion time.
func (s *SeedStore) List(ctx context.Context) ([]domain.Seed, error) {
	var seeds []domain.Seed
	err := s.urls.db.SelectContext(ctx, &seeds,
		`SELECT url, added_at, last_queued FROM seeds ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}

	return seeds, nil
}

// Requeue pushes every seed into the URL store at the given priority and
// stamps last_queued. Returns the count actually added or restored.
func (s *SeedStore) Requeue(ctx context.Context, priority float64) (int, error) {
	seeds, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	reqs := make([]AddRequest, 0, len(seeds))
	for _, seed := range seeds {
		reqs = append(reqs, AddRequest{URL: seed.URL, Priority: priority})
	}

	added, err := s.urls.AddBatch(ctx, reqs)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	if _, stampErr := s.urls.db.ExecContext(ctx,
		s.urls.db.Rebind(`UPDATE seeds SET last_queued = ?`), now,
	); stampErr != nil {
		return added, fmt.Errorf("failed to stamp seed queue time: %w", stampErr)
	}

	return added, nil
}

// ImportTranco reads a Tranco list ZIP (a single CSV of rank,domain rows),
// converts the first limit rows to https://{domain}/ seeds, and adds them.
func (s *SeedStore) ImportTranco(ctx context.Context, archive []byte, limit int) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return 0, fmt.Errorf("failed to open tranco archive: %w", err)
	}

	var csvFile *zip.File
	for _, f := range reader.File {
		if len(f.Name) > 4 && f.Name[len(f.Name)-4:] == ".csv" {
			csvFile = f
			break
		}
	}
	if csvFile == nil {
		return 0, ErrNoTrancoCSV
	}

	rc, err := csvFile.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open tranco csv: %w", err)
	}
	defer rc.Close()

	urls, err := parseTrancoRows(rc, limit)
	if err != nil {
		return 0, err
	}

	return s.Add(ctx, urls)
}

// parseTrancoRows reads up to limit (rank, domain) rows into seed URLs.
func parseTrancoRows(r io.Reader, limit int) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = trancoColumns

	urls := make([]string, 0, limit)
	for len(urls) < limit {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse tranco csv: %w", err)
		}

		if _, rankErr := strconv.Atoi(row[0]); rankErr != nil {
			// Header or malformed rank; skip the row.
			continue
		}

		urls = append(urls, "https://"+row[1]+"/")
	}

	return urls, nil
}
