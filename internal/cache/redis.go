package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/go-redis/redis/v8"
)

// RedisStorage keeps buckets in Redis so several proxies can share one cache.
//
// Access times live in their own hash; a read never rewrites a record.
//
// Layout for prefix p and bucket b:
//
//	p:buckets           set of bucket names
//	p:seq               recency counter
//	p:bucket:b:meta     hash of max_entries and max_age_seconds
//	p:bucket:b:entries  hash of key to JSON record
//	p:bucket:b:accessed hash of key to last access time
//	p:bucket:b:recency  sorted set of keys scored by recency
type RedisStorage struct {
	client *redis.Client
	prefix string
	opts   options

	mu      sync.Mutex
	buckets map[string]*redisBucket
}

// NewRedisStorage wraps a connected client. The storage owns client and closes it.
func NewRedisStorage(client *redis.Client, prefix string, opts ...Option) *RedisStorage {
	if prefix == "" {
		prefix = "swcache"
	}
	return &RedisStorage{
		client:  client,
		prefix:  prefix,
		opts:    buildOptions(opts),
		buckets: make(map[string]*redisBucket),
	}
}

func (s *RedisStorage) setKey() string { return s.prefix + ":buckets" }
func (s *RedisStorage) seqKey() string { return s.prefix + ":seq" }

func (s *RedisStorage) bucketKey(name, part string) string {
	return fmt.Sprintf("%s:bucket:%s:%s", s.prefix, name, part)
}

func (s *RedisStorage) Bucket(ctx context.Context, name string, limits policy.Expiration) (Bucket, error) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.setKey(), name)
		pipe.HSet(ctx, s.bucketKey(name, "meta"),
			"max_entries", limits.MaxEntries,
			"max_age_seconds", limits.MaxAgeSeconds)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register bucket %s: %w", name, err)
	}

	b := s.open(name, limits)
	b.mu.Lock()
	err = b.evictLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *RedisStorage) Existing(ctx context.Context, name string) (Bucket, error) {
	limits, err := s.limits(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.open(name, limits), nil
}

func (s *RedisStorage) open(name string, limits policy.Expiration) *redisBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		b.mu.Lock()
		b.limits = limits
		b.mu.Unlock()
		return b
	}

	b := &redisBucket{store: s, name: name, limits: limits}
	s.buckets[name] = b
	return b
}

func (s *RedisStorage) limits(ctx context.Context, name string) (policy.Expiration, error) {
	meta, err := s.client.HGetAll(ctx, s.bucketKey(name, "meta")).Result()
	if err != nil {
		return policy.Expiration{}, err
	}
	if len(meta) == 0 {
		return policy.Expiration{}, fmt.Errorf("%w: %s", shared.ErrBucketNotFound, name)
	}

	maxEntries, _ := strconv.Atoi(meta["max_entries"])
	maxAge, _ := strconv.ParseInt(meta["max_age_seconds"], 10, 64)
	return policy.Expiration{MaxEntries: maxEntries, MaxAgeSeconds: maxAge}, nil
}

func (s *RedisStorage) List(ctx context.Context) ([]models.BucketStats, error) {
	names, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]models.BucketStats, 0, len(names))
	for _, name := range names {
		b, err := s.Existing(ctx, name)
		if err != nil {
			return nil, err
		}
		st, err := b.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// redisRecord is the stored form of a [models.CacheEntry], body included.
type redisRecord struct {
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   int64       `json:"stored_at"`
	AccessedAt int64       `json:"accessed_at"`
}

func encodeRecord(e *models.CacheEntry) ([]byte, error) {
	return json.Marshal(redisRecord{
		Key:        e.Key,
		Status:     e.Status,
		Header:     e.Header,
		Body:       e.Body,
		StoredAt:   e.StoredAt.UnixNano(),
		AccessedAt: e.AccessedAt.UnixNano(),
	})
}

func decodeRecord(data []byte) (*models.CacheEntry, error) {
	var r redisRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &models.CacheEntry{
		Key:        r.Key,
		Status:     r.Status,
		Header:     r.Header,
		Body:       r.Body,
		StoredAt:   time.Unix(0, r.StoredAt).UTC(),
		AccessedAt: time.Unix(0, r.AccessedAt).UTC(),
	}, nil
}

type redisBucket struct {
	store *RedisStorage
	name  string

	mu     sync.Mutex
	limits policy.Expiration
}

// touchScript bumps recency and access time only while the entry still exists, and never
// rewrites the record itself.
//
// KEYS: entries, accessed, recency, seq. ARGV: key, access time in unix nanos.
var touchScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local seq = redis.call("INCR", KEYS[4])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[3], seq, ARGV[1])
return 1
`)

func (b *redisBucket) Name() string { return b.name }

func (b *redisBucket) Limits() policy.Expiration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits
}

func (b *redisBucket) entriesKey() string  { return b.store.bucketKey(b.name, "entries") }
func (b *redisBucket) accessedKey() string { return b.store.bucketKey(b.name, "accessed") }
func (b *redisBucket) recencyKey() string  { return b.store.bucketKey(b.name, "recency") }

func (b *redisBucket) touch(ctx context.Context, pipe redis.Pipeliner, key string) error {
	seq, err := b.store.client.Incr(ctx, b.store.seqKey()).Result()
	if err != nil {
		return err
	}
	pipe.ZAdd(ctx, b.recencyKey(), &redis.Z{Score: float64(seq), Member: key})
	return nil
}

// read loads the record for key with its latest access time.
func (b *redisBucket) read(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	pipe := b.store.client.Pipeline()
	record := pipe.HGet(ctx, b.entriesKey(), key)
	accessed := pipe.HGet(ctx, b.accessedKey(), key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	data, err := record.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entry, err := decodeRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if at, err := accessed.Int64(); err == nil {
		entry.AccessedAt = time.Unix(0, at).UTC()
	}
	return entry, true, nil
}

func (b *redisBucket) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	entry, ok, err := b.read(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	now := b.store.opts.clock()
	touched, err := b.markAccessed(ctx, key, now)
	if err != nil {
		return nil, false, err
	}
	if !touched {
		// deleted between the read and the touch
		return nil, false, nil
	}

	entry.AccessedAt = now.UTC()
	return entry, true, nil
}

// markAccessed makes key the most recently used entry. It reports false when key is gone.
func (b *redisBucket) markAccessed(ctx context.Context, key string, now time.Time) (bool, error) {
	keys := []string{b.entriesKey(), b.accessedKey(), b.recencyKey(), b.store.seqKey()}
	touched, err := touchScript.Run(ctx, b.store.client, keys, key, now.UnixNano()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to touch %s: %w", key, err)
	}
	return touched == 1, nil
}

func (b *redisBucket) Peek(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	return b.read(ctx, key)
}

func (b *redisBucket) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: entry needs a key", shared.ErrInvalidInput)
	}
	data, err := encodeRecord(entry)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pipe := b.store.client.TxPipeline()
	pipe.HSet(ctx, b.entriesKey(), entry.Key, data)
	pipe.HSet(ctx, b.accessedKey(), entry.Key, entry.AccessedAt.UnixNano())
	if err := b.touch(ctx, pipe, entry.Key); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return b.evictLocked(ctx)
}

// evictLocked removes the lowest-scored keys until the bucket fits MaxEntries.
func (b *redisBucket) evictLocked(ctx context.Context) error {
	if b.limits.MaxEntries <= 0 {
		return nil
	}
	n, err := b.store.client.ZCard(ctx, b.recencyKey()).Result()
	if err != nil {
		return err
	}
	excess := n - int64(b.limits.MaxEntries)
	if excess <= 0 {
		return nil
	}

	keys, err := b.store.client.ZRange(ctx, b.recencyKey(), 0, excess-1).Result()
	if err != nil {
		return err
	}
	return b.removeKeys(ctx, keys)
}

func (b *redisBucket) queueRemove(ctx context.Context, pipe redis.Pipeliner, keys []string) {
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe.HDel(ctx, b.entriesKey(), keys...)
	pipe.HDel(ctx, b.accessedKey(), keys...)
	pipe.ZRem(ctx, b.recencyKey(), members...)
}

func (b *redisBucket) removeKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := b.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.queueRemove(ctx, pipe, keys)
		return nil
	})
	return err
}

func (b *redisBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeKeys(ctx, []string{key})
}

// DeleteVersion watches the entries hash so a write from another proxy between the
// compare and the delete aborts the delete.
func (b *redisBucket) DeleteVersion(ctx context.Context, key string, storedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := false
	err := b.store.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, b.entriesKey(), key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		current, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if !current.StoredAt.Equal(storedAt) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			b.queueRemove(ctx, pipe, []string{key})
			return nil
		})
		removed = err == nil
		return err
	}, b.entriesKey())

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return removed, err
}

func (b *redisBucket) Entries(ctx context.Context) ([]*models.CacheEntry, error) {
	keys, err := b.store.client.ZRange(ctx, b.recencyKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := b.store.client.Pipeline()
	records := pipe.HMGet(ctx, b.entriesKey(), keys...)
	accessed := pipe.HMGet(ctx, b.accessedKey(), keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	times := accessed.Val()
	out := make([]*models.CacheEntry, 0, len(keys))
	for i, v := range records.Val() {
		s, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		if i < len(times) {
			if raw, ok := times[i].(string); ok {
				if at, err := strconv.ParseInt(raw, 10, 64); err == nil {
					entry.AccessedAt = time.Unix(0, at).UTC()
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (b *redisBucket) Len(ctx context.Context) (int, error) {
	n, err := b.store.client.HLen(ctx, b.entriesKey()).Result()
	return int(n), err
}

func (b *redisBucket) Sweep(ctx context.Context) (int, error) {
	maxAge := b.Limits().MaxAge()
	if maxAge <= 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.Entries(ctx)
	if err != nil {
		return 0, err
	}

	now := b.store.opts.clock()
	var expired []string
	for _, e := range entries {
		if e.Expired(now, maxAge) {
			expired = append(expired, e.Key)
		}
	}
	if err := b.removeKeys(ctx, expired); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (b *redisBucket) Purge(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.client.Del(ctx, b.entriesKey(), b.accessedKey(), b.recencyKey()).Err()
}

func (b *redisBucket) Stats(ctx context.Context) (models.BucketStats, error) {
	entries, err := b.Entries(ctx)
	if err != nil {
		return models.BucketStats{}, err
	}
	return statsFor(b.name, b.Limits(), entries), nil
}
