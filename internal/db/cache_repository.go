package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// timeFormat is the canonical on-disk timestamp representation. Timestamps
// are parsed back into absolute instants before any comparison; rows with
// unparseable timestamps are treated as invalid, never as errors.
const timeFormat = time.RFC3339Nano

// CacheRepository persists resolved package-file lists keyed by product id.
// In replace mode at most one row per product id survives a Store; in
// history mode rows accumulate and the most recently written one is
// authoritative.
type CacheRepository struct {
	db          *Database
	keepHistory atomic.Bool
	now         func() time.Time
}

// NewCacheRepository creates a cache repository.
func NewCacheRepository(database *Database, keepHistory bool) *CacheRepository {
	r := &CacheRepository{db: database, now: time.Now}
	r.keepHistory.Store(keepHistory)
	return r
}

// SetKeepHistory toggles history mode at runtime (config hot reload).
func (r *CacheRepository) SetKeepHistory(keep bool) {
	r.keepHistory.Store(keep)
}

// KeepHistory reports whether history mode is active.
func (r *CacheRepository) KeepHistory() bool {
	return r.keepHistory.Load()
}

// NormalizeProductID returns the canonical uppercase form of a product id.
func NormalizeProductID(productID string) string {
	return strings.ToUpper(strings.TrimSpace(productID))
}

// Lookup returns the authoritative entry for the product id if it is still
// fresh: the candidate last-modified instant must not be strictly newer than
// the stored one. A stale entry, a missing entry, and an unparseable stored
// timestamp all return (nil, nil).
func (r *CacheRepository) Lookup(ctx context.Context, productID string, candidateLastModified time.Time) (*CacheEntry, error) {
	query := `
		SELECT id, product_id, content_id, last_modified, files, cached_at
		FROM package_cache WHERE product_id = ?
		ORDER BY cached_at DESC, id DESC LIMIT 1
	`

	row := r.db.DB().QueryRowContext(ctx, query, NormalizeProductID(productID))
	entry, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}

	if entry.LastModified.IsZero() {
		// Stored timestamp did not parse; the row cannot prove freshness.
		return nil, nil
	}
	if candidateLastModified.After(entry.LastModified) {
		return nil, nil
	}

	return entry, nil
}

// Store records a resolved file list. In replace mode existing rows for the
// key are removed first; the delete and insert are not wrapped in a
// transaction because a concurrent Lookup observing the transient empty
// state only produces a safe cache miss.
func (r *CacheRepository) Store(ctx context.Context, productID, contentID string, lastModified time.Time, files []PackageFile) error {
	normalized := NormalizeProductID(productID)

	filesData, err := encodeFiles(files)
	if err != nil {
		return fmt.Errorf("failed to encode file list: %w", err)
	}

	if !r.keepHistory.Load() {
		if _, err := r.db.DB().ExecContext(ctx,
			`DELETE FROM package_cache WHERE product_id = ?`, normalized); err != nil {
			return fmt.Errorf("failed to replace cache entry: %w", err)
		}
	}

	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO package_cache (product_id, content_id, last_modified, files, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		normalized,
		contentID,
		lastModified.UTC().Format(timeFormat),
		filesData,
		r.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// PurgeOlderThan deletes rows whose write time exceeds the given age and
// returns the number removed. Maintenance only; never on the request path.
func (r *CacheRepository) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().Add(-age).UTC().Format(timeFormat)

	result, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM package_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return removed, nil
}

// EntryCount returns the number of cached rows.
func (r *CacheRepository) EntryCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM package_cache`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}

// scanCacheEntry scans a row into a CacheEntry. Unparseable timestamps are
// left as zero values for the caller to judge.
func scanCacheEntry(row *sql.Row) (*CacheEntry, error) {
	var entry CacheEntry
	var lastModified, cachedAt, filesData string

	err := row.Scan(&entry.ID, &entry.ProductID, &entry.ContentID, &lastModified, &filesData, &cachedAt)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(timeFormat, lastModified); err == nil {
		entry.LastModified = t
	}
	if t, err := time.Parse(timeFormat, cachedAt); err == nil {
		entry.CachedAt = t
	}

	entry.Files, err = decodeFiles(filesData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}

	return &entry, nil
}
