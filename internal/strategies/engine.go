package strategies

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultRefreshTimeout = 30 * time.Second

// Result is the response chosen for a request and where it came from.
type Result struct {
	Entry  *models.CacheEntry
	Source models.Source
	// Rule is the matched rule, nil when the request bypassed the router.
	Rule *policy.Rule
}

// Engine runs caching strategies. It is safe for concurrent use.
type Engine struct {
	router  *policy.Router
	storage cache.Storage
	fetcher Fetcher
	logger  *log.Logger
	clock   func() time.Time

	limiter        *rate.Limiter
	refreshTimeout time.Duration
	group          singleflight.Group
	wg             sync.WaitGroup

	mu      sync.Mutex
	buckets map[string]cache.Bucket
}

// Option configures an [Engine].
type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(c func() time.Time) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRevalidateLimit throttles background refreshes to r per second with the given burst.
// A non-positive r disables throttling.
func WithRevalidateLimit(r float64, burst int) Option {
	return func(e *Engine) {
		if r <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// WithRefreshTimeout bounds each background refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(e *Engine) { e.refreshTimeout = d }
}

// New creates an engine over router, storage and fetcher.
func New(router *policy.Router, storage cache.Storage, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		router:         router,
		storage:        storage,
		fetcher:        fetcher,
		logger:         shared.NewLogger(nil),
		clock:          time.Now,
		limiter:        rate.NewLimiter(rate.Inf, 0),
		refreshTimeout: defaultRefreshTimeout,
		buckets:        make(map[string]cache.Bucket),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Router returns the routing table the engine serves from.
func (e *Engine) Router() *policy.Router { return e.router }

// Now reads the engine's clock.
func (e *Engine) Now() time.Time { return e.clock() }

// Storage returns the bucket storage.
func (e *Engine) Storage() cache.Storage { return e.storage }

// Handle resolves req to a response. Only GET requests that match a rule reach a strategy;
// everything else is fetched as-is.
func (e *Engine) Handle(ctx context.Context, req *http.Request) (*Result, error) {
	if req.Method != http.MethodGet {
		return e.bypass(ctx, req, nil)
	}

	rule, ok := e.router.Route(req.URL)
	if !ok {
		return e.bypass(ctx, req, nil)
	}

	switch rule.Strategy {
	case policy.CacheFirst:
		return e.cacheFirst(ctx, req, &rule)
	case policy.StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, req, &rule)
	case policy.NetworkFirst:
		return e.networkFirst(ctx, req, &rule)
	default:
		return e.bypass(ctx, req, &rule)
	}
}

// Wait blocks until every background refresh has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) bucket(ctx context.Context, rule *policy.Rule) (cache.Bucket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.buckets[rule.CacheName]; ok {
		return b, nil
	}
	b, err := e.storage.Bucket(ctx, rule.CacheName, rule.Limits())
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", rule.CacheName, err)
	}
	e.buckets[rule.CacheName] = b
	return b, nil
}

func (e *Engine) fetch(ctx context.Context, req *http.Request) (*models.CacheEntry, error) {
	entry, err := e.fetcher.Fetch(ctx, req.WithContext(ctx))
	if err != nil {
		return nil, classify(req, err)
	}
	return entry, nil
}

// store writes a successful response. Failures are logged; the response is still served.
func (e *Engine) store(ctx context.Context, b cache.Bucket, key string, resp *models.CacheEntry) {
	if resp.Status != http.StatusOK {
		return
	}

	now := e.clock()
	entry := resp.Clone()
	entry.Key = key
	entry.StoredAt, entry.AccessedAt = now, now

	if err := b.Put(ctx, entry); err != nil {
		e.logger.Warn("failed to store entry", "bucket", b.Name(), "key", key, "error", err)
	}
}

// lookup returns the cached entry for key and whether it has outlived the bucket's max age.
func (e *Engine) lookup(ctx context.Context, b cache.Bucket, key string) (*models.CacheEntry, bool) {
	entry, ok, err := b.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache read failed", "bucket", b.Name(), "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return entry, entry.Expired(e.clock(), b.Limits().MaxAge())
}

func (e *Engine) bypass(ctx context.Context, req *http.Request, rule *policy.Rule) (*Result, error) {
	resp, err := e.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Entry: resp, Source: models.SourceBypass, Rule: rule}, nil
}

func (e *Engine) cacheFirst(ctx context.Context, req *http.Request, rule *policy.Rule) (*Result, error) {
	b, err := e.bucket(ctx, rule)
	if err != nil {
		return nil, err
	}
	key := req.URL.String()

	if entry, expired := e.lookup(ctx, b, key); entry != nil && !expired {
		return &Result{Entry: entry, Source: models.SourceCache, Rule: rule}, nil
	}

	resp, err := e.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	e.store(ctx, b, key, resp)
	return &Result{Entry: resp, Source: models.SourceNetwork, Rule: rule}, nil
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req *http.Request, rule *policy.Rule) (*Result, error) {
	b, err := e.bucket(ctx, rule)
	if err != nil {
		return nil, err
	}
	key := req.URL.String()

	if entry, expired := e.lookup(ctx, b, key); entry != nil {
		source := models.SourceCache
		var stale *models.CacheEntry
		if expired {
			source = models.SourceStale
			stale = entry
		}
		e.revalidate(ctx, b, req, stale)
		return &Result{Entry: entry, Source: source, Rule: rule}, nil
	}

	resp, err := e.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	e.store(ctx, b, key, resp)
	return &Result{Entry: resp, Source: models.SourceNetwork, Rule: rule}, nil
}

func (e *Engine) networkFirst(ctx context.Context, req *http.Request, rule *policy.Rule) (*Result, error) {
	b, err := e.bucket(ctx, rule)
	if err != nil {
		return nil, err
	}
	key := req.URL.String()

	fetchCtx := ctx
	if rule.NetworkTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, rule.NetworkTimeout)
		defer cancel()
	}

	resp, fetchErr := e.fetch(fetchCtx, req)
	if fetchErr == nil {
		e.store(ctx, b, key, resp)
		return &Result{Entry: resp, Source: models.SourceNetwork, Rule: rule}, nil
	}

	if entry, expired := e.lookup(ctx, b, key); entry != nil && !expired {
		e.logger.Debug("serving cached fallback", "bucket", b.Name(), "key", key, "error", fetchErr)
		return &Result{Entry: entry, Source: models.SourceFallback, Rule: rule}, nil
	}
	return nil, fetchErr
}

// revalidate refreshes key in the background. The caller's response is never affected.
// When stale is the expired entry just served and its refresh does not happen or fails, it is
// dropped so it is served only once.
func (e *Engine) revalidate(ctx context.Context, b cache.Bucket, req *http.Request, stale *models.CacheEntry) {
	key := req.URL.String()
	logger := shared.WithLogger(e.logger, "bucket", b.Name(), "key", key)

	if !e.limiter.Allow() {
		logger.Debug("revalidation throttled")
		if stale != nil {
			e.drop(context.WithoutCancel(ctx), b, stale, logger)
		}
		return
	}

	bg := context.WithoutCancel(ctx)
	refresh := req.Clone(bg)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		_, err, _ := e.group.Do(b.Name()+"\x00"+key, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(bg, e.refreshTimeout)
			defer cancel()

			resp, err := e.fetch(fetchCtx, refresh)
			if err != nil {
				return nil, err
			}
			if resp.Status != http.StatusOK {
				return nil, fmt.Errorf("%w: %s returned %d", shared.ErrNetwork, key, resp.Status)
			}
			e.store(bg, b, key, resp)
			return nil, nil
		})
		if err != nil {
			logger.Warn("background revalidation failed", "error", err)
			if stale != nil {
				e.drop(bg, b, stale, logger)
			}
			return
		}
		logger.Debug("revalidated")
	}()
}

// drop removes stale unless another write replaced it in the meantime.
func (e *Engine) drop(ctx context.Context, b cache.Bucket, stale *models.CacheEntry, logger *log.Logger) {
	removed, err := b.DeleteVersion(ctx, stale.Key, stale.StoredAt)
	if err != nil {
		logger.Warn("failed to drop expired entry", "error", err)
		return
	}
	if !removed {
		logger.Debug("expired entry already replaced")
	}
}
