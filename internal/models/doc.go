// Package models defines the values that move between the cache router, the bucket store and the proxy.
//
//   - [CacheEntry] : a stored HTTP response keyed by absolute URL
//   - [BucketStats] : per-bucket counters reported by the CLI, admin API and inspector
//   - [Source] : where a served response came from, surfaced as the X-Cache header
package models
