package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/go-redis/redis/v8"
)

// Bucket is one named cache with its own eviction limits.
type Bucket interface {
	Name() string
	Limits() policy.Expiration
	// Get returns the entry for key, expired or not, and marks it recently used.
	Get(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	// Peek returns the entry for key without changing its recency or access time.
	Peek(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	// Put stores entry under entry.Key and evicts least recently used entries beyond MaxEntries.
	Put(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	// DeleteVersion deletes key only while the stored entry still has the given StoredAt.
	DeleteVersion(ctx context.Context, key string, storedAt time.Time) (bool, error)
	// Entries lists entries from least to most recently used without touching them.
	Entries(ctx context.Context) ([]*models.CacheEntry, error)
	Len(ctx context.Context) (int, error)
	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) (models.BucketStats, error)
}

// Storage opens buckets by name.
type Storage interface {
	// Bucket opens or creates a bucket with the given limits.
	Bucket(ctx context.Context, name string, limits policy.Expiration) (Bucket, error)
	// Existing opens a bucket that was created earlier, or fails with [shared.ErrBucketNotFound].
	Existing(ctx context.Context, name string) (Bucket, error)
	// List reports every known bucket ordered by name.
	List(ctx context.Context) ([]models.BucketStats, error)
	Close() error
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

type options struct {
	clock Clock
}

// Option configures a [Storage].
type Option func(*options)

// WithClock overrides time.Now for expiry and access stamps.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open returns the storage selected by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *shared.Config, opts ...Option) (Storage, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case shared.BackendMemory, "":
		return NewMemoryStorage(opts...), nil
	case shared.BackendSQLite:
		db, err := shared.OpenDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewSQLStorage(db, opts...), nil
	case shared.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStorage(client, cfg.Redis.Prefix, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnsupportedBackend, cfg.Cache.Backend)
	}
}

// Prepare opens every bucket the router declares so limits are recorded before the first request.
func Prepare(ctx context.Context, s Storage, router *policy.Router) error {
	for _, b := range router.Buckets() {
		if _, err := s.Bucket(ctx, b.Name, b.Expiration); err != nil {
			return fmt.Errorf("failed to open bucket %s: %w", b.Name, err)
		}
	}
	return nil
}

// SweepAll sweeps every bucket in s and returns the total removed.
func SweepAll(ctx context.Context, s Storage) (int, error) {
	stats, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, st := range stats {
		b, err := s.Existing(ctx, st.Name)
		if err != nil {
			return total, err
		}
		n, err := b.Sweep(ctx)
		if err != nil {
			return total, fmt.Errorf("failed to sweep %s: %w", st.Name, err)
		}
		total += n
	}
	return total, nil
}

func statsFor(name string, limits policy.Expiration, entries []*models.CacheEntry) models.BucketStats {
	stats := models.BucketStats{
		Name:       name,
		Entries:    len(entries),
		MaxEntries: limits.MaxEntries,
		MaxAge:     limits.MaxAgeSeconds,
	}
	for _, e := range entries {
		stats.Bytes += e.Size()
		if stats.Oldest.IsZero() || e.StoredAt.Before(stats.Oldest) {
			stats.Oldest = e.StoredAt
		}
		if e.StoredAt.After(stats.Newest) {
			stats.Newest = e.StoredAt
		}
	}
	return stats
}
