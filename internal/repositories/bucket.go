package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
)

// BucketRow is a persisted bucket declaration.
type BucketRow struct {
	Name          string
	MaxEntries    int
	MaxAgeSeconds int64
}

// UpsertBucket records a bucket and its current limits.
func (r *EntryRepository) UpsertBucket(ctx context.Context, b BucketRow) error {
	query := `
		INSERT INTO cache_buckets (name, max_entries, max_age_seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET max_entries = excluded.max_entries, max_age_seconds = excluded.max_age_seconds
	`

	if _, err := r.db.ExecContext(ctx, query, b.Name, b.MaxEntries, b.MaxAgeSeconds); err != nil {
		return fmt.Errorf("failed to upsert bucket: %w", err)
	}
	return nil
}

// GetBucket returns a bucket declaration or [shared.ErrBucketNotFound].
func (r *EntryRepository) GetBucket(ctx context.Context, name string) (*BucketRow, error) {
	var b BucketRow
	err := r.db.QueryRowContext(ctx,
		"SELECT name, max_entries, max_age_seconds FROM cache_buckets WHERE name = ?", name,
	).Scan(&b.Name, &b.MaxEntries, &b.MaxAgeSeconds)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrBucketNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &b, nil
}

// ListBuckets returns all declared buckets ordered by name.
func (r *EntryRepository) ListBuckets(ctx context.Context) ([]BucketRow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, max_entries, max_age_seconds FROM cache_buckets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketRow
	for rows.Next() {
		var b BucketRow
		if err := rows.Scan(&b.Name, &b.MaxEntries, &b.MaxAgeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Stats aggregates entry counters for a bucket.
func (r *EntryRepository) Stats(ctx context.Context, b BucketRow) (models.BucketStats, error) {
	stats := models.BucketStats{
		Name:       b.Name,
		MaxEntries: b.MaxEntries,
		MaxAge:     b.MaxAgeSeconds,
	}

	var bytes, oldest, newest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(LENGTH(body)), MIN(stored_at), MAX(stored_at)
		FROM cache_entries
		WHERE bucket = ?
	`, b.Name).Scan(&stats.Entries, &bytes, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate bucket: %w", err)
	}

	stats.Bytes = bytes.Int64
	if oldest.Valid {
		stats.Oldest = fromUnixNano(oldest.Int64)
		stats.Newest = fromUnixNano(newest.Int64)
	}
	return stats, nil
}
