package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/swcache/internal/formatter"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
)

var (
	_ list.Item = bucketItem{}
	_ list.Item = entryItem{}
)

// bucketItem wraps [models.BucketStats] to implement [list.Item].
type bucketItem struct {
	stats models.BucketStats
}

func (i bucketItem) FilterValue() string { return i.stats.Name }
func (i bucketItem) Title() string       { return i.stats.Name }
func (i bucketItem) Description() string {
	limit := "unbounded"
	if i.stats.MaxEntries > 0 {
		limit = fmt.Sprint(i.stats.MaxEntries)
	}
	return fmt.Sprintf("%d/%s entries • %s • max age %s",
		i.stats.Entries, limit, shared.FormatBytes(i.stats.Bytes), formatter.FormatSeconds(i.stats.MaxAge))
}

// entryItem wraps [models.CacheEntry] to implement [list.Item].
type entryItem struct {
	entry   *models.CacheEntry
	expired bool
	now     time.Time
}

func (i entryItem) FilterValue() string { return i.entry.Key }
func (i entryItem) Title() string       { return i.entry.Key }
func (i entryItem) Description() string {
	desc := fmt.Sprintf("%d • %s • stored %s ago",
		i.entry.Status, shared.FormatBytes(i.entry.Size()), i.entry.Age(i.now).Round(time.Second))
	if ct := i.entry.Header.Get("Content-Type"); ct != "" {
		desc = fmt.Sprintf("%s • %s", desc, ct)
	}
	if i.expired {
		desc += " • expired"
	}
	return desc
}
