// Package cache implements named, bounded buckets of stored responses.
//
// A [Bucket] holds [models.CacheEntry] values keyed by absolute URL under two limits taken from the
// routing table:
//   - MaxEntries : once exceeded, the least recently used entry is purged. Get and Put both count as use.
//   - MaxAgeSeconds : entries older than this are reported as expired. The bucket still returns them;
//     whether an expired entry is a miss is up to the serving strategy.
//
// Writes to an existing key replace it (last writer wins). A bucket never holds more than MaxEntries
// entries once Put returns.
//
// # Backends
//
// [Storage] hands out buckets by name. [NewMemoryStorage] keeps everything in process,
// [NewSQLStorage] persists to SQLite through repositories.EntryRepository and [NewRedisStorage]
// shares buckets between proxy instances. [Open] picks one from configuration.
package cache
