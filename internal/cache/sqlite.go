package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/repositories"
	"github.com/desertthunder/swcache/internal/shared"
)

// SQLStorage persists buckets to SQLite so cached assets survive restarts.
type SQLStorage struct {
	db   *sql.DB
	repo *repositories.EntryRepository
	opts options
}

// NewSQLStorage wraps a migrated database. The storage owns db and closes it.
func NewSQLStorage(db *sql.DB, opts ...Option) *SQLStorage {
	return &SQLStorage{
		db:   db,
		repo: repositories.NewEntryRepository(db),
		opts: buildOptions(opts),
	}
}

func (s *SQLStorage) Bucket(ctx context.Context, name string, limits policy.Expiration) (Bucket, error) {
	row := repositories.BucketRow{Name: name, MaxEntries: limits.MaxEntries, MaxAgeSeconds: limits.MaxAgeSeconds}
	if err := s.repo.UpsertBucket(ctx, row); err != nil {
		return nil, err
	}
	return &sqlBucket{row: row, repo: s.repo, clock: s.opts.clock}, nil
}

func (s *SQLStorage) Existing(ctx context.Context, name string) (Bucket, error) {
	row, err := s.repo.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return &sqlBucket{row: *row, repo: s.repo, clock: s.opts.clock}, nil
}

func (s *SQLStorage) List(ctx context.Context) ([]models.BucketStats, error) {
	rows, err := s.repo.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.BucketStats, 0, len(rows))
	for _, row := range rows {
		st, err := s.repo.Stats(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// sqlBucket adapts [repositories.EntryRepository] to [Bucket].
type sqlBucket struct {
	row   repositories.BucketRow
	repo  *repositories.EntryRepository
	clock Clock
}

func (b *sqlBucket) Name() string { return b.row.Name }

func (b *sqlBucket) Limits() policy.Expiration {
	return policy.Expiration{MaxEntries: b.row.MaxEntries, MaxAgeSeconds: b.row.MaxAgeSeconds}
}

func (b *sqlBucket) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	entry, err := b.repo.Get(ctx, b.row.Name, key, b.clock())
	if errors.Is(err, shared.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (b *sqlBucket) Peek(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	entry, err := b.repo.Peek(ctx, b.row.Name, key)
	if errors.Is(err, shared.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (b *sqlBucket) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: entry needs a key", shared.ErrInvalidInput)
	}
	_, err := b.repo.Put(ctx, b.row.Name, entry, b.row.MaxEntries)
	return err
}

func (b *sqlBucket) Delete(ctx context.Context, key string) error {
	return b.repo.Delete(ctx, b.row.Name, key)
}

func (b *sqlBucket) DeleteVersion(ctx context.Context, key string, storedAt time.Time) (bool, error) {
	return b.repo.DeleteVersion(ctx, b.row.Name, key, storedAt)
}

func (b *sqlBucket) Entries(ctx context.Context) ([]*models.CacheEntry, error) {
	return b.repo.List(ctx, b.row.Name)
}

func (b *sqlBucket) Len(ctx context.Context) (int, error) {
	return b.repo.Count(ctx, b.row.Name)
}

func (b *sqlBucket) Sweep(ctx context.Context) (int, error) {
	maxAge := b.Limits().MaxAge()
	if maxAge <= 0 {
		return 0, nil
	}
	return b.repo.DeleteStoredBefore(ctx, b.row.Name, b.clock().Add(-maxAge))
}

func (b *sqlBucket) Purge(ctx context.Context) error {
	return b.repo.Purge(ctx, b.row.Name)
}

func (b *sqlBucket) Stats(ctx context.Context) (models.BucketStats, error) {
	return b.repo.Stats(ctx, b.row)
}
