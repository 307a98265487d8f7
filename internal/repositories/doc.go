// Package repositories implements SQLite persistence for cache buckets and their entries.
//
// [EntryRepository] owns two tables created by the embedded migrations in internal/shared:
//   - cache_buckets : one row per bucket with the limits it was opened with
//   - cache_entries : stored responses keyed by (bucket, key)
//
// LRU order is tracked by a recency column fed from a monotonic sequence table rather than wall
// clock timestamps, so two touches inside the same clock tick still order correctly.
// Sequence values are taken inside the same transaction as the write that uses them.
package repositories
