package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/formatter"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/urfave/cli/v3"
)

// CacheStats prints entry counts and sizes for every bucket.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	storage, err := r.Storage(ctx)
	if err != nil {
		return err
	}
	r.warnEphemeral()

	stats, err := storage.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}

	data, err := formatter.Buckets(stats, format)
	if err != nil {
		return err
	}
	return r.emit(cmd, data)
}

// CacheEntries lists one bucket's entries from least to most recently used.
func (r *Runner) CacheEntries(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("bucket")
	if name == "" {
		return fmt.Errorf("%w: bucket", shared.ErrMissingArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	storage, err := r.Storage(ctx)
	if err != nil {
		return err
	}

	bucket, err := storage.Existing(ctx, name)
	if err != nil {
		return err
	}

	entries, err := bucket.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	data, err := formatter.Entries(name, entries, format)
	if err != nil {
		return err
	}
	return r.emit(cmd, data)
}

// CacheShow prints one entry's status, timestamps and headers without touching its recency.
func (r *Runner) CacheShow(ctx context.Context, cmd *cli.Command) error {
	name, key := cmd.StringArg("bucket"), cmd.StringArg("key")
	if name == "" || key == "" {
		return fmt.Errorf("%w: bucket and key", shared.ErrMissingArgument)
	}

	storage, err := r.Storage(ctx)
	if err != nil {
		return err
	}
	r.warnEphemeral()

	bucket, err := storage.Existing(ctx, name)
	if err != nil {
		return err
	}

	entry, ok, err := bucket.Peek(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", shared.ErrCacheMiss, key, name)
	}

	if cmd.Bool("json") {
		return r.writeJSON(entry, true)
	}

	r.writePlainHeader(entry.Key)
	r.writePlain("Bucket:   %s\n", name)
	r.writePlain("Status:   %d\n", entry.Status)
	r.writePlain("Stored:   %s\n", entry.StoredAt.Format(time.RFC3339))
	r.writePlain("Accessed: %s\n", entry.AccessedAt.Format(time.RFC3339))
	r.writePlain("Size:     %d bytes\n", len(entry.Body))

	names := make([]string, 0, len(entry.Header))
	for h := range entry.Header {
		names = append(names, h)
	}
	sort.Strings(names)
	for _, h := range names {
		r.writePlain("  %s: %s\n", h, strings.Join(entry.Header.Values(h), ", "))
	}
	return nil
}

// CachePurge empties one bucket, or all of them with --all.
func (r *Runner) CachePurge(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("bucket")
	all := cmd.Bool("all")
	if name == "" && !all {
		return fmt.Errorf("%w: bucket (or --all)", shared.ErrMissingArgument)
	}

	storage, err := r.Storage(ctx)
	if err != nil {
		return err
	}

	names := []string{name}
	if all {
		stats, err := storage.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list buckets: %w", err)
		}
		names = names[:0]
		for _, st := range stats {
			names = append(names, st.Name)
		}
	}

	for _, n := range names {
		bucket, err := storage.Existing(ctx, n)
		if err != nil {
			return err
		}
		if err := bucket.Purge(ctx); err != nil {
			return fmt.Errorf("failed to purge %s: %w", n, err)
		}
		r.logger.Info("purged bucket", "bucket", n)
	}

	return r.writePlain("✓ Purged %s\n", strings.Join(names, ", "))
}

// CacheSweep deletes expired entries from every bucket.
func (r *Runner) CacheSweep(ctx context.Context, cmd *cli.Command) error {
	storage, err := r.Storage(ctx)
	if err != nil {
		return err
	}
	r.warnEphemeral()

	removed, err := cache.SweepAll(ctx, storage)
	if err != nil {
		return err
	}

	r.logger.Info("sweep complete", "removed", removed)
	return r.writePlain("✓ Removed %d expired entries\n", removed)
}

func (r *Runner) warnEphemeral() {
	if backend := strings.ToLower(r.Config().Cache.Backend); backend == "" || backend == shared.BackendMemory {
		r.logger.Warn("memory backend holds no data outside a running proxy; set cache.backend to sqlite or redis")
	}
}
