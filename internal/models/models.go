package models

import (
	"net/http"
	"time"
)

// CacheEntry is a stored response. Entries are keyed by the request's absolute URL.
type CacheEntry struct {
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"-"`
	StoredAt   time.Time   `json:"stored_at"`
	AccessedAt time.Time   `json:"accessed_at"`
}

// NewCacheEntry builds an entry stamped with now for both store and access times.
func NewCacheEntry(key string, status int, header http.Header, body []byte, now time.Time) *CacheEntry {
	return &CacheEntry{
		Key:        key,
		Status:     status,
		Header:     header.Clone(),
		Body:       body,
		StoredAt:   now,
		AccessedAt: now,
	}
}

// Age reports how long ago the entry was stored.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Expired reports whether the entry is older than maxAge. A zero maxAge never expires.
func (e *CacheEntry) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && e.Age(now) > maxAge
}

// Size is the number of body bytes held by the entry.
func (e *CacheEntry) Size() int64 {
	return int64(len(e.Body))
}

// Clone returns a deep copy so callers can't mutate bucket state.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// BucketStats summarizes one bucket.
type BucketStats struct {
	Name       string    `json:"name"`
	Entries    int       `json:"entries"`
	Bytes      int64     `json:"bytes"`
	MaxEntries int       `json:"max_entries"`
	MaxAge     int64     `json:"max_age_seconds"`
	Oldest     time.Time `json:"oldest,omitzero"`
	Newest     time.Time `json:"newest,omitzero"`
}

// Source says where a served response came from.
type Source int

const (
	SourceBypass   Source = iota // no rule or not cacheable, fetched straight from network
	SourceNetwork                // fetched from network under a caching rule
	SourceCache                  // fresh cache hit
	SourceStale                  // expired entry served while revalidating
	SourceFallback               // network failed, cache answered
)

// String returns the X-Cache header value for s.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "MISS"
	case SourceCache:
		return "HIT"
	case SourceStale:
		return "STALE"
	case SourceFallback:
		return "FALLBACK"
	default:
		return "BYPASS"
	}
}
