package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newEntry(key string, body string, at time.Time) *models.CacheEntry {
	return models.NewCacheEntry(key, http.StatusOK, http.Header{"Content-Type": []string{"text/plain"}}, []byte(body), at)
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := nextSequence(ctx, db, "cache_entries")
	if err != nil {
		t.Fatalf("nextSequence() error = %v", err)
	}
	second, err := nextSequence(ctx, db, "cache_entries")
	if err != nil {
		t.Fatalf("nextSequence() error = %v", err)
	}
	if second != first+1 {
		t.Errorf("expected consecutive sequence values, got %d then %d", first, second)
	}

	if _, err := nextSequence(ctx, db, "missing"); err == nil {
		t.Error("expected error for table without a sequence")
	}
}

func TestEntryRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Put And Get", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		if err := repo.UpsertBucket(ctx, BucketRow{Name: "others", MaxEntries: 32, MaxAgeSeconds: 86400}); err != nil {
			t.Fatalf("UpsertBucket() error = %v", err)
		}

		if _, err := repo.Put(ctx, "others", newEntry("https://a.test/x", "hello", now), 32); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		later := now.Add(time.Minute)
		got, err := repo.Get(ctx, "others", "https://a.test/x", later)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		if string(got.Body) != "hello" {
			t.Errorf("expected body hello, got %q", got.Body)
		}
		if got.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("expected header to round trip, got %v", got.Header)
		}
		if !got.StoredAt.Equal(now) {
			t.Errorf("expected stored_at %v, got %v", now, got.StoredAt)
		}
		if !got.AccessedAt.Equal(later) {
			t.Errorf("expected accessed_at %v, got %v", later, got.AccessedAt)
		}
	})

	t.Run("Get Miss", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		if _, err := repo.Get(ctx, "others", "nope", now); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
		if _, err := repo.Peek(ctx, "others", "nope"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss from Peek, got %v", err)
		}
	})

	t.Run("Put Overwrites", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.Put(ctx, "b", newEntry("k", "one", now), 0)
		repo.Put(ctx, "b", newEntry("k", "two", now.Add(time.Second)), 0)

		got, err := repo.Peek(ctx, "b", "k")
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if string(got.Body) != "two" {
			t.Errorf("expected last write to win, got %q", got.Body)
		}

		if n, _ := repo.Count(ctx, "b"); n != 1 {
			t.Errorf("expected one entry, got %d", n)
		}
	})

	t.Run("Put Evicts Least Recently Used", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))

		for i := range 3 {
			if _, err := repo.Put(ctx, "b", newEntry(fmt.Sprintf("k%d", i), "v", now), 3); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		// k0 becomes most recent, so k1 is the eviction candidate
		if _, err := repo.Get(ctx, "b", "k0", now); err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		evicted, err := repo.Put(ctx, "b", newEntry("k3", "v", now), 3)
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if evicted != 1 {
			t.Errorf("expected one eviction, got %d", evicted)
		}

		if _, err := repo.Peek(ctx, "b", "k1"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected k1 to be evicted, got %v", err)
		}

		entries, err := repo.List(ctx, "b")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		var keys []string
		for _, e := range entries {
			keys = append(keys, e.Key)
		}
		want := []string{"k2", "k0", "k3"}
		if fmt.Sprint(keys) != fmt.Sprint(want) {
			t.Errorf("expected LRU order %v, got %v", want, keys)
		}
	})

	t.Run("Eviction Is Per Bucket", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.Put(ctx, "a", newEntry("k", "v", now), 1)
		repo.Put(ctx, "b", newEntry("k", "v", now), 1)
		repo.Put(ctx, "b", newEntry("k2", "v", now), 1)

		if n, _ := repo.Count(ctx, "a"); n != 1 {
			t.Errorf("expected bucket a untouched, got %d entries", n)
		}
		if n, _ := repo.Count(ctx, "b"); n != 1 {
			t.Errorf("expected bucket b trimmed to 1, got %d entries", n)
		}
	})

	t.Run("DeleteStoredBefore", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.Put(ctx, "b", newEntry("old", "v", now.Add(-2*time.Hour)), 0)
		repo.Put(ctx, "b", newEntry("new", "v", now), 0)

		n, err := repo.DeleteStoredBefore(ctx, "b", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("DeleteStoredBefore() error = %v", err)
		}
		if n != 1 {
			t.Errorf("expected one deletion, got %d", n)
		}
		if _, err := repo.Peek(ctx, "b", "new"); err != nil {
			t.Errorf("expected new entry to survive: %v", err)
		}
	})

	t.Run("DeleteVersion Keeps Newer Writes", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.Put(ctx, "b", newEntry("k", "v1", now), 0)
		repo.Put(ctx, "b", newEntry("k", "v2", now.Add(time.Minute)), 0)

		removed, err := repo.DeleteVersion(ctx, "b", "k", now)
		if err != nil {
			t.Fatalf("DeleteVersion() error = %v", err)
		}
		if removed {
			t.Error("expected the newer row to be kept")
		}

		removed, err = repo.DeleteVersion(ctx, "b", "k", now.Add(time.Minute))
		if err != nil {
			t.Fatalf("DeleteVersion() error = %v", err)
		}
		if !removed {
			t.Error("expected the matching row to be deleted")
		}
		if _, err := repo.Peek(ctx, "b", "k"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected k to be gone, got %v", err)
		}
	})

	t.Run("Delete And Purge", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.Put(ctx, "b", newEntry("x", "v", now), 0)
		repo.Put(ctx, "b", newEntry("y", "v", now), 0)

		if err := repo.Delete(ctx, "b", "x"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := repo.Delete(ctx, "b", "x"); err != nil {
			t.Errorf("deleting twice should not fail: %v", err)
		}
		if err := repo.Purge(ctx, "b"); err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if n, _ := repo.Count(ctx, "b"); n != 0 {
			t.Errorf("expected empty bucket, got %d", n)
		}
	})
}

func TestBucketRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Upsert Updates Limits", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.UpsertBucket(ctx, BucketRow{Name: "b", MaxEntries: 4})
		repo.UpsertBucket(ctx, BucketRow{Name: "b", MaxEntries: 8, MaxAgeSeconds: 60})

		got, err := repo.GetBucket(ctx, "b")
		if err != nil {
			t.Fatalf("GetBucket() error = %v", err)
		}
		if got.MaxEntries != 8 || got.MaxAgeSeconds != 60 {
			t.Errorf("expected updated limits, got %+v", got)
		}
	})

	t.Run("GetBucket Missing", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		if _, err := repo.GetBucket(ctx, "ghost"); !errors.Is(err, shared.ErrBucketNotFound) {
			t.Errorf("expected ErrBucketNotFound, got %v", err)
		}
	})

	t.Run("ListBuckets And Stats", func(t *testing.T) {
		repo := NewEntryRepository(setupTestDB(t))
		repo.UpsertBucket(ctx, BucketRow{Name: "zeta"})
		repo.UpsertBucket(ctx, BucketRow{Name: "alpha", MaxEntries: 2})
		repo.Put(ctx, "alpha", newEntry("a", "1234", now), 2)
		repo.Put(ctx, "alpha", newEntry("b", "56", now.Add(time.Hour)), 2)

		buckets, err := repo.ListBuckets(ctx)
		if err != nil {
			t.Fatalf("ListBuckets() error = %v", err)
		}
		if len(buckets) != 2 || buckets[0].Name != "alpha" {
			t.Fatalf("expected buckets sorted by name, got %+v", buckets)
		}

		stats, err := repo.Stats(ctx, buckets[0])
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.Entries != 2 || stats.Bytes != 6 {
			t.Errorf("expected 2 entries / 6 bytes, got %d / %d", stats.Entries, stats.Bytes)
		}
		if !stats.Oldest.Equal(now) || !stats.Newest.Equal(now.Add(time.Hour)) {
			t.Errorf("unexpected oldest/newest: %v / %v", stats.Oldest, stats.Newest)
		}

		empty, err := repo.Stats(ctx, buckets[1])
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if empty.Entries != 0 || !empty.Oldest.IsZero() {
			t.Errorf("expected zero stats for empty bucket, got %+v", empty)
		}
	})
}
