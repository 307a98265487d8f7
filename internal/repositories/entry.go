package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
)

const entryColumns = "key, status, header, body, stored_at, accessed_at"

// EntryRepository stores [models.CacheEntry] rows grouped by bucket.
type EntryRepository struct {
	db *sql.DB
}

// NewEntryRepository creates a new EntryRepository with the given database connection
func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Get returns the entry for key, or [shared.ErrCacheMiss].
//
// A hit bumps the entry's recency and access time.
func (r *EntryRepository) Get(ctx context.Context, bucket, key string, now time.Time) (*models.CacheEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM cache_entries WHERE bucket = ? AND key = ?", bucket, key)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}

	recency, err := nextSequence(ctx, tx, "cache_entries")
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cache_entries SET recency = ?, accessed_at = ? WHERE bucket = ? AND key = ?",
		recency, now.UnixNano(), bucket, key,
	); err != nil {
		return nil, fmt.Errorf("failed to touch entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit touch: %w", err)
	}

	entry.AccessedAt = now
	return entry, nil
}

// Peek returns the entry for key without changing its recency.
func (r *EntryRepository) Peek(ctx context.Context, bucket, key string) (*models.CacheEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM cache_entries WHERE bucket = ? AND key = ?", bucket, key)
	return scanEntry(row)
}

// Put writes entry as the most recently used row and trims the bucket to maxEntries (0 = unbounded).
//
// Returns how many rows were evicted.
func (r *EntryRepository) Put(ctx context.Context, bucket string, entry *models.CacheEntry, maxEntries int) (int, error) {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return 0, fmt.Errorf("failed to encode header: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	recency, err := nextSequence(ctx, tx, "cache_entries")
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO cache_entries (bucket, key, status, header, body, stored_at, accessed_at, recency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at,
			accessed_at = excluded.accessed_at,
			recency = excluded.recency
	`
	if _, err := tx.ExecContext(ctx, query,
		bucket,
		entry.Key,
		entry.Status,
		string(header),
		entry.Body,
		entry.StoredAt.UnixNano(),
		entry.AccessedAt.UnixNano(),
		recency,
	); err != nil {
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}

	var evicted int64
	if maxEntries > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries
			WHERE bucket = ? AND key IN (
				SELECT key FROM cache_entries WHERE bucket = ? ORDER BY recency DESC LIMIT -1 OFFSET ?
			)
		`, bucket, bucket, maxEntries)
		if err != nil {
			return 0, fmt.Errorf("failed to evict entries: %w", err)
		}
		evicted, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entry: %w", err)
	}

	return int(evicted), nil
}

// Delete removes one entry. Deleting a missing key is not an error.
func (r *EntryRepository) Delete(ctx context.Context, bucket, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE bucket = ? AND key = ?", bucket, key); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// DeleteVersion removes key only while its row still carries storedAt, so a newer write survives.
func (r *EntryRepository) DeleteVersion(ctx context.Context, bucket, key string, storedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE bucket = ? AND key = ? AND stored_at = ?", bucket, key, storedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteStoredBefore removes entries stored before cutoff and returns how many went.
func (r *EntryRepository) DeleteStoredBefore(ctx context.Context, bucket string, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE bucket = ? AND stored_at < ?", bucket, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge removes every entry in a bucket, keeping its declaration.
func (r *EntryRepository) Purge(ctx context.Context, bucket string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE bucket = ?", bucket); err != nil {
		return fmt.Errorf("failed to purge bucket: %w", err)
	}
	return nil
}

// Count returns the number of entries in a bucket.
func (r *EntryRepository) Count(ctx context.Context, bucket string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE bucket = ?", bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// List returns a bucket's entries from least to most recently used.
func (r *EntryRepository) List(ctx context.Context, bucket string) ([]*models.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM cache_entries WHERE bucket = ? ORDER BY recency ASC", bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.CacheEntry, error) {
	var (
		entry    models.CacheEntry
		header   string
		stored   int64
		accessed int64
	)

	err := s.Scan(&entry.Key, &entry.Status, &header, &entry.Body, &stored, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	entry.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	entry.StoredAt = fromUnixNano(stored)
	entry.AccessedAt = fromUnixNano(accessed)

	return &entry, nil
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
