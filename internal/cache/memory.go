package cache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MemoryStorage keeps buckets in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	buckets map[string]*MemoryBucket
	opts    options
}

// NewMemoryStorage creates an empty [MemoryStorage].
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	return &MemoryStorage{
		buckets: make(map[string]*MemoryBucket),
		opts:    buildOptions(opts),
	}
}

// Bucket returns the named bucket, creating it on first use. Later calls update its limits.
func (s *MemoryStorage) Bucket(ctx context.Context, name string, limits policy.Expiration) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		b.setLimits(limits)
		return b, nil
	}

	b := NewMemoryBucket(name, limits, s.opts.clock)
	s.buckets[name] = b
	return b, nil
}

// Existing returns a bucket created by an earlier call to [MemoryStorage.Bucket].
func (s *MemoryStorage) Existing(ctx context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrBucketNotFound, name)
	}
	return b, nil
}

func (s *MemoryStorage) List(ctx context.Context) ([]models.BucketStats, error) {
	s.mu.Lock()
	buckets := make([]*MemoryBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.Unlock()

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].name < buckets[j].name })

	out := make([]models.BucketStats, 0, len(buckets))
	for _, b := range buckets {
		st, _ := b.Stats(ctx)
		out = append(out, st)
	}
	return out, nil
}

func (s *MemoryStorage) Close() error { return nil }

// MemoryBucket is a [simplelru.LRU] keyed by URL.
type MemoryBucket struct {
	name  string
	clock Clock

	mu     sync.Mutex
	limits policy.Expiration
	lru    *simplelru.LRU[string, *models.CacheEntry]
}

// capacity maps MaxEntries onto an LRU size; zero means unbounded.
func capacity(limits policy.Expiration) int {
	if limits.MaxEntries <= 0 {
		return math.MaxInt
	}
	return limits.MaxEntries
}

// NewMemoryBucket creates a standalone in-memory bucket.
func NewMemoryBucket(name string, limits policy.Expiration, clock Clock) *MemoryBucket {
	// NewLRU only fails for a non-positive size
	lru, _ := simplelru.NewLRU[string, *models.CacheEntry](capacity(limits), nil)
	return &MemoryBucket{
		name:   name,
		clock:  clock,
		limits: limits,
		lru:    lru,
	}
}

func (b *MemoryBucket) Name() string { return b.name }

func (b *MemoryBucket) Limits() policy.Expiration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits
}

func (b *MemoryBucket) setLimits(limits policy.Expiration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits = limits
	b.lru.Resize(capacity(limits))
}

func (b *MemoryBucket) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry.AccessedAt = b.clock()
	return entry.Clone(), true, nil
}

func (b *MemoryBucket) Peek(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.lru.Peek(key)
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (b *MemoryBucket) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: entry needs a key", shared.ErrInvalidInput)
	}

	stored := entry.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lru.Add(stored.Key, stored)
	return nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lru.Remove(key)
	return nil
}

func (b *MemoryBucket) DeleteVersion(ctx context.Context, key string, storedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.lru.Peek(key)
	if !ok || !entry.StoredAt.Equal(storedAt) {
		return false, nil
	}
	return b.lru.Remove(key), nil
}

func (b *MemoryBucket) Entries(ctx context.Context) ([]*models.CacheEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values := b.lru.Values()
	out := make([]*models.CacheEntry, 0, len(values))
	for _, entry := range values {
		out = append(out, entry.Clone())
	}
	return out, nil
}

func (b *MemoryBucket) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len(), nil
}

func (b *MemoryBucket) Sweep(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now, maxAge := b.clock(), b.limits.MaxAge()
	removed := 0
	for _, key := range b.lru.Keys() {
		if entry, ok := b.lru.Peek(key); ok && entry.Expired(now, maxAge) {
			b.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (b *MemoryBucket) Purge(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lru.Purge()
	return nil
}

func (b *MemoryBucket) Stats(ctx context.Context) (models.BucketStats, error) {
	entries, _ := b.Entries(ctx)
	return statsFor(b.name, b.Limits(), entries), nil
}
