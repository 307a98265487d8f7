// Package strategies serves requests according to the rule the cache router picks for them.
//
// An [Engine] owns the network [Fetcher] and the bucket [cache.Storage]. For each request it
// asks the [policy.Router] for a rule and runs that rule's strategy:
//
//   - NetworkOnly fetches and never touches a bucket.
//   - CacheFirst serves a fresh entry, otherwise fetches and stores.
//   - StaleWhileRevalidate serves any entry at once and refreshes it in the background.
//   - NetworkFirst fetches within the rule's timeout and falls back to a fresh entry.
//
// Background refreshes are deduplicated per bucket and key, rate limited, and tracked so
// [Engine.Wait] can drain them before shutdown.
package strategies
