package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/desertthunder/swcache/internal/strategies"
)

const (
	headerCache       = "X-Cache"
	headerCacheBucket = "X-Cache-Bucket"
	headerCacheRule   = "X-Cache-Rule"
)

// ProxyHandler serves every request not claimed by another handler through the strategy engine.
type ProxyHandler struct {
	engine *strategies.Engine
	origin *url.URL
	logger *log.Logger
}

func NewProxyHandler(engine *strategies.Engine, origin *url.URL, logger *log.Logger) *ProxyHandler {
	return &ProxyHandler{engine: engine, origin: origin, logger: logger}
}

func (h *ProxyHandler) Routes() []string { return []string{"/"} }

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT tunnelling is not supported", http.StatusMethodNotAllowed)
		return
	}

	target := h.Target(r)
	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""

	res, err := h.engine.Handle(r.Context(), out)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, shared.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("upstream failed", "url", target.String(), "error", err, "request_id", RequestIDFrom(r.Context()))
		http.Error(w, http.StatusText(status), status)
		return
	}

	writeResult(w, r, res, h.engine.Now())
}

// Target resolves the upstream URL: absolute-form request URIs are used as-is,
// origin-form paths are resolved against the configured origin.
func (h *ProxyHandler) Target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return h.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

func writeResult(w http.ResponseWriter, r *http.Request, res *strategies.Result, now time.Time) {
	header := w.Header()
	for k, vs := range res.Entry.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	header.Set(headerCache, res.Source.String())
	if res.Rule != nil {
		header.Set(headerCacheRule, res.Rule.Name)
		if res.Rule.CacheName != "" {
			header.Set(headerCacheBucket, res.Rule.CacheName)
		}
	}
	switch res.Source {
	case models.SourceCache, models.SourceStale, models.SourceFallback:
		if !res.Entry.StoredAt.IsZero() {
			age := int64(now.Sub(res.Entry.StoredAt).Seconds())
			header.Set("Age", strconv.FormatInt(max(age, 0), 10))
		}
	}
	if r.Method != http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(res.Entry.Body)))
	}

	w.WriteHeader(res.Entry.Status)
	w.Write(res.Entry.Body)
}
