package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	tu "github.com/desertthunder/swcache/internal/testing"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T, clock *tu.Clock) Storage
}

func backends(t *testing.T) []backend {
	t.Helper()

	all := []backend{
		{"memory", func(t *testing.T, clock *tu.Clock) Storage {
			return NewMemoryStorage(WithClock(clock.Now))
		}},
		{"sqlite", func(t *testing.T, clock *tu.Clock) Storage {
			db, err := shared.NewDatabase(":memory:")
			if err != nil {
				t.Fatalf("failed to create test database: %v", err)
			}
			if err := shared.RunMigrations(db); err != nil {
				db.Close()
				t.Fatalf("failed to run migrations: %v", err)
			}
			s := NewSQLStorage(db, WithClock(clock.Now))
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}

	all = append(all, backend{"redis", func(t *testing.T, clock *tu.Clock) Storage {
		addr := os.Getenv("SWCACHE_REDIS_ADDR")
		if addr == "" {
			addr = miniredis.RunT(t).Addr()
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		prefix := fmt.Sprintf("swcache-test-%d", time.Now().UnixNano())
		s := NewRedisStorage(client, prefix, WithClock(clock.Now))
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			s.Close()
		})
		return s
	}})
	return all
}

func entry(key, body string, at time.Time) *models.CacheEntry {
	return models.NewCacheEntry(key, http.StatusOK, http.Header{"Content-Type": []string{"text/css"}}, []byte(body), at)
}

func keys(t *testing.T, b Bucket) []string {
	t.Helper()
	entries, err := b.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func TestBucketConformance(t *testing.T) {
	ctx := context.Background()

	for _, be := range backends(t) {
		t.Run(be.name, func(t *testing.T) {
			t.Run("Evicts Least Recently Used", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, err := s.Bucket(ctx, "static-js-assets", policy.Expiration{MaxEntries: 3})
				if err != nil {
					t.Fatalf("Bucket() error = %v", err)
				}

				for i := range 4 {
					clock.Advance(time.Second)
					if err := b.Put(ctx, entry(fmt.Sprintf("https://a.test/%d.js", i), "x", clock.Now())); err != nil {
						t.Fatalf("Put() error = %v", err)
					}
					if n, _ := b.Len(ctx); n > 3 {
						t.Fatalf("bucket grew to %d entries, limit is 3", n)
					}
				}

				if _, ok, _ := b.Get(ctx, "https://a.test/0.js"); ok {
					t.Error("expected first inserted entry to be evicted")
				}
				want := []string{"https://a.test/1.js", "https://a.test/2.js", "https://a.test/3.js"}
				if diff := cmp.Diff(want, keys(t, b)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("Get Refreshes Recency", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "images", policy.Expiration{MaxEntries: 2})

				b.Put(ctx, entry("a", "1", epoch))
				b.Put(ctx, entry("b", "2", epoch))
				if _, ok, err := b.Get(ctx, "a"); !ok || err != nil {
					t.Fatalf("Get(a) = %v, %v", ok, err)
				}
				b.Put(ctx, entry("c", "3", epoch))

				if diff := cmp.Diff([]string{"a", "c"}, keys(t, b)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("Last Writer Wins", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "others", policy.Expiration{MaxEntries: 2})

				b.Put(ctx, entry("k", "old", epoch))
				b.Put(ctx, entry("k", "new", epoch.Add(time.Second)))

				got, ok, err := b.Get(ctx, "k")
				if err != nil || !ok {
					t.Fatalf("Get() = %v, %v", ok, err)
				}
				if string(got.Body) != "new" {
					t.Errorf("expected body new, got %q", got.Body)
				}
				if n, _ := b.Len(ctx); n != 1 {
					t.Errorf("expected 1 entry, got %d", n)
				}
			})

			t.Run("Miss", func(t *testing.T) {
				s := be.open(t, tu.NewClock(epoch))
				b, _ := s.Bucket(ctx, "others", policy.Expiration{})
				got, ok, err := b.Get(ctx, "absent")
				if err != nil || ok || got != nil {
					t.Errorf("Get() = %v, %v, %v; want nil, false, nil", got, ok, err)
				}
			})

			t.Run("Get Marks Access Time", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "others", policy.Expiration{})
				b.Put(ctx, entry("k", "v", epoch))

				clock.Advance(time.Hour)
				got, _, _ := b.Get(ctx, "k")
				if !got.AccessedAt.Equal(epoch.Add(time.Hour)) {
					t.Errorf("expected accessed_at %v, got %v", epoch.Add(time.Hour), got.AccessedAt)
				}
				if !got.StoredAt.Equal(epoch) {
					t.Errorf("expected stored_at unchanged, got %v", got.StoredAt)
				}
			})

			t.Run("Peek Leaves Recency Alone", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "others", policy.Expiration{MaxEntries: 2})
				b.Put(ctx, entry("a", "1", epoch))
				b.Put(ctx, entry("b", "2", epoch))

				clock.Advance(time.Hour)
				got, ok, err := b.Peek(ctx, "a")
				if err != nil || !ok {
					t.Fatalf("Peek() = %v, %v", ok, err)
				}
				if !got.AccessedAt.Equal(epoch) {
					t.Errorf("expected accessed_at unchanged, got %v", got.AccessedAt)
				}

				b.Put(ctx, entry("c", "3", epoch))
				if diff := cmp.Diff([]string{"b", "c"}, keys(t, b)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}
				if _, ok, _ := b.Peek(ctx, "a"); ok {
					t.Error("expected a to be evicted")
				}
			})

			t.Run("DeleteVersion Keeps Newer Writes", func(t *testing.T) {
				s := be.open(t, tu.NewClock(epoch))
				b, _ := s.Bucket(ctx, "others", policy.Expiration{})
				b.Put(ctx, entry("k", "new", epoch.Add(time.Minute)))

				removed, err := b.DeleteVersion(ctx, "k", epoch)
				if err != nil {
					t.Fatalf("DeleteVersion() error = %v", err)
				}
				if removed {
					t.Error("expected a newer entry to survive")
				}
				if got, ok, _ := b.Peek(ctx, "k"); !ok || string(got.Body) != "new" {
					t.Errorf("expected body new, got %v", got)
				}

				removed, err = b.DeleteVersion(ctx, "k", epoch.Add(time.Minute))
				if err != nil {
					t.Fatalf("DeleteVersion() error = %v", err)
				}
				if !removed {
					t.Error("expected the matching entry to be removed")
				}
				if n, _ := b.Len(ctx); n != 0 {
					t.Errorf("expected empty bucket, got %d", n)
				}
				if removed, _ := b.DeleteVersion(ctx, "missing", epoch); removed {
					t.Error("expected nothing removed for a missing key")
				}
			})

			t.Run("Sweep Removes Expired", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "cross-origin", policy.Expiration{MaxEntries: 10, MaxAgeSeconds: 3600})

				b.Put(ctx, entry("old", "1", epoch))
				b.Put(ctx, entry("fresh", "2", epoch.Add(90*time.Minute)))
				clock.Advance(2 * time.Hour)

				n, err := b.Sweep(ctx)
				if err != nil {
					t.Fatalf("Sweep() error = %v", err)
				}
				if n != 1 {
					t.Errorf("expected 1 removed, got %d", n)
				}
				if diff := cmp.Diff([]string{"fresh"}, keys(t, b)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("Sweep Without Max Age", func(t *testing.T) {
				clock := tu.NewClock(epoch)
				s := be.open(t, clock)
				b, _ := s.Bucket(ctx, "forever", policy.Expiration{})
				b.Put(ctx, entry("k", "v", epoch))
				clock.Advance(24 * 365 * time.Hour)

				if n, _ := b.Sweep(ctx); n != 0 {
					t.Errorf("expected nothing swept, got %d", n)
				}
			})

			t.Run("Delete And Purge", func(t *testing.T) {
				s := be.open(t, tu.NewClock(epoch))
				b, _ := s.Bucket(ctx, "others", policy.Expiration{})
				b.Put(ctx, entry("a", "1", epoch))
				b.Put(ctx, entry("b", "2", epoch))

				if err := b.Delete(ctx, "a"); err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
				if err := b.Delete(ctx, "missing"); err != nil {
					t.Errorf("Delete() of a missing key should not fail, got %v", err)
				}
				if diff := cmp.Diff([]string{"b"}, keys(t, b)); diff != "" {
					t.Errorf("entries mismatch (-want +got):\n%s", diff)
				}

				if err := b.Purge(ctx); err != nil {
					t.Fatalf("Purge() error = %v", err)
				}
				if n, _ := b.Len(ctx); n != 0 {
					t.Errorf("expected empty bucket after purge, got %d", n)
				}
			})

			t.Run("Existing And List", func(t *testing.T) {
				s := be.open(t, tu.NewClock(epoch))
				if _, err := s.Existing(ctx, "nope"); !errors.Is(err, shared.ErrBucketNotFound) {
					t.Errorf("expected ErrBucketNotFound, got %v", err)
				}

				b, _ := s.Bucket(ctx, "zeta", policy.Expiration{MaxEntries: 4, MaxAgeSeconds: 60})
				s.Bucket(ctx, "alpha", policy.Expiration{MaxEntries: 2})
				b.Put(ctx, entry("k1", "abc", epoch))
				b.Put(ctx, entry("k2", "de", epoch.Add(time.Minute)))

				again, err := s.Existing(ctx, "zeta")
				if err != nil {
					t.Fatalf("Existing() error = %v", err)
				}
				if diff := cmp.Diff(policy.Expiration{MaxEntries: 4, MaxAgeSeconds: 60}, again.Limits()); diff != "" {
					t.Errorf("limits mismatch (-want +got):\n%s", diff)
				}

				stats, err := s.List(ctx)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				want := []models.BucketStats{
					{Name: "alpha", MaxEntries: 2},
					{Name: "zeta", Entries: 2, Bytes: 5, MaxEntries: 4, MaxAge: 60, Oldest: epoch, Newest: epoch.Add(time.Minute)},
				}
				if diff := cmp.Diff(want, stats); diff != "" {
					t.Errorf("stats mismatch (-want +got):\n%s", diff)
				}
			})
		})
	}
}

func TestMemoryBucketIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("others", policy.Expiration{}, tu.NewClock(epoch).Now)

	original := entry("k", "body", epoch)
	b.Put(ctx, original)
	original.Body[0] = 'X'
	original.Header.Set("Content-Type", "changed")

	got, _, _ := b.Get(ctx, "k")
	if string(got.Body) != "body" || got.Header.Get("Content-Type") != "text/css" {
		t.Errorf("bucket shares memory with caller: %q %v", got.Body, got.Header)
	}

	got.Body[0] = 'Y'
	again, _, _ := b.Get(ctx, "k")
	if string(again.Body) != "body" {
		t.Errorf("Get returned shared memory: %q", again.Body)
	}
}

func TestMemoryStorageShrinksOnNewLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(WithClock(tu.NewClock(epoch).Now))

	b, _ := s.Bucket(ctx, "others", policy.Expiration{})
	for i := range 5 {
		b.Put(ctx, entry(fmt.Sprint(i), "x", epoch))
	}
	s.Bucket(ctx, "others", policy.Expiration{MaxEntries: 2})

	if diff := cmp.Diff([]string{"3", "4"}, keys(t, b)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	b := NewMemoryBucket("others", policy.Expiration{}, time.Now)
	if err := b.Put(context.Background(), &models.CacheEntry{}); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		s, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer s.Close()
		if _, ok := s.(*MemoryStorage); !ok {
			t.Errorf("expected *MemoryStorage, got %T", s)
		}
	})

	t.Run("SQLite", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Cache.Backend = shared.BackendSQLite
		cfg.Database.Path = ":memory:"
		s, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer s.Close()
		if _, ok := s.(*SQLStorage); !ok {
			t.Errorf("expected *SQLStorage, got %T", s)
		}
	})

	t.Run("Unknown Backend", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Cache.Backend = "memcached"
		if _, err := Open(ctx, cfg); !errors.Is(err, shared.ErrUnsupportedBackend) {
			t.Errorf("expected ErrUnsupportedBackend, got %v", err)
		}
	})
}

func TestPrepareAndSweepAll(t *testing.T) {
	ctx := context.Background()
	clock := tu.NewClock(epoch)
	s := NewMemoryStorage(WithClock(clock.Now))
	router := policy.DefaultRouter(&url.URL{Scheme: "https", Host: "app.test"})

	if err := Prepare(ctx, s, router); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	stats, _ := s.List(ctx)
	if len(stats) != len(router.Buckets()) {
		t.Fatalf("expected %d buckets, got %d", len(router.Buckets()), len(stats))
	}

	others, _ := s.Existing(ctx, policy.BucketOthers)
	cross, _ := s.Existing(ctx, policy.BucketCrossOrigin)
	others.Put(ctx, entry("https://app.test/", "home", epoch))
	cross.Put(ctx, entry("https://cdn.test/lib", "lib", epoch))

	clock.Advance(2 * time.Hour)
	n, err := SweepAll(ctx, s)
	if err != nil {
		t.Fatalf("SweepAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the cross-origin entry to expire, removed %d", n)
	}
}

func TestRedisKeys(t *testing.T) {
	s := NewRedisStorage(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer s.Close()

	if got := s.setKey(); got != "swcache:buckets" {
		t.Errorf("setKey() = %q", got)
	}
	if got := s.bucketKey("others", "recency"); got != "swcache:bucket:others:recency" {
		t.Errorf("bucketKey() = %q", got)
	}
}

func TestRedisRecordRoundTrip(t *testing.T) {
	e := entry("https://a.test/x.css", "body{}", epoch)
	e.AccessedAt = epoch.Add(time.Minute)

	data, err := encodeRecord(e)
	if err != nil {
		t.Fatalf("encodeRecord() error = %v", err)
	}
	got, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decodeRecord() error = %v", err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisReadsDoNotRewriteRecords(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	clock := tu.NewClock(epoch)

	open := func() *RedisStorage {
		s := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "race", WithClock(clock.Now))
		t.Cleanup(func() { s.Close() })
		return s
	}
	reader, writer := open(), open()

	rb, _ := reader.Bucket(ctx, "others", policy.Expiration{})
	wb, _ := writer.Bucket(ctx, "others", policy.Expiration{})
	rb.Put(ctx, entry("k", "v1", epoch))

	t.Run("Get Leaves Stored Record Intact", func(t *testing.T) {
		r := rb.(*redisBucket)
		before := mr.HGet(r.entriesKey(), "k")

		clock.Advance(time.Minute)
		if _, ok, err := rb.Get(ctx, "k"); err != nil || !ok {
			t.Fatalf("Get() = %v, %v", ok, err)
		}
		if after := mr.HGet(r.entriesKey(), "k"); after != before {
			t.Error("expected Get to leave the stored record unchanged")
		}
		if mr.HGet(r.accessedKey(), "k") == "" {
			t.Error("expected access time in the accessed hash")
		}
	})

	t.Run("Write Between Read And Touch Survives", func(t *testing.T) {
		r := rb.(*redisBucket)
		stale, ok, err := r.read(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("read() = %v, %v", ok, err)
		}
		if string(stale.Body) != "v1" {
			t.Fatalf("expected v1, got %q", stale.Body)
		}

		wb.Put(ctx, entry("k", "v2", epoch.Add(time.Hour)))

		clock.Advance(time.Minute)
		touched, err := r.markAccessed(ctx, "k", clock.Now())
		if err != nil || !touched {
			t.Fatalf("markAccessed() = %v, %v", touched, err)
		}

		got, ok, _ := wb.Peek(ctx, "k")
		if !ok || string(got.Body) != "v2" {
			t.Fatalf("expected v2 to survive the touch, got %v", got)
		}
		if !got.StoredAt.Equal(epoch.Add(time.Hour)) {
			t.Errorf("expected stored_at of v2, got %v", got.StoredAt)
		}
	})

	t.Run("Touch After Delete Reports Miss", func(t *testing.T) {
		r := rb.(*redisBucket)
		wb.Delete(ctx, "k")
		touched, err := r.markAccessed(ctx, "k", clock.Now())
		if err != nil {
			t.Fatalf("markAccessed() error = %v", err)
		}
		if touched {
			t.Error("expected no touch for a deleted key")
		}
		if n, _ := rb.Len(ctx); n != 0 {
			t.Errorf("expected empty bucket, got %d", n)
		}
	})
}
