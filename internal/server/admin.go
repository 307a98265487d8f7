package server

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/desertthunder/swcache/internal/strategies"
)

// AdminPrefix is the path prefix of the admin API. Requests under it never reach the proxy.
const AdminPrefix = "/_swcache/"

// AdminHandler exposes the rule table and bucket management as JSON.
type AdminHandler struct {
	engine *strategies.Engine
	logger *log.Logger
	mux    *http.ServeMux
}

func NewAdminHandler(engine *strategies.Engine, logger *log.Logger) *AdminHandler {
	h := &AdminHandler{engine: engine, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET "+AdminPrefix+"rules", h.rules)
	h.mux.HandleFunc("GET "+AdminPrefix+"route", h.route)
	h.mux.HandleFunc("GET "+AdminPrefix+"buckets", h.buckets)
	h.mux.HandleFunc("GET "+AdminPrefix+"buckets/{name}", h.entries)
	h.mux.HandleFunc("DELETE "+AdminPrefix+"buckets/{name}", h.purge)
	h.mux.HandleFunc("POST "+AdminPrefix+"sweep", h.sweep)
	h.mux.HandleFunc(AdminPrefix, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "unknown admin endpoint")
	})
	return h
}

func (h *AdminHandler) Routes() []string { return []string{AdminPrefix} }

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Router().Rules())
}

func (h *AdminHandler) route(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url query parameter")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Router().Decide(raw))
}

func (h *AdminHandler) buckets(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Storage().List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type entryView struct {
	*models.CacheEntry
	Size int64 `json:"size"`
}

func (h *AdminHandler) entries(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bucket(w, r)
	if !ok {
		return
	}
	entries, err := b.Entries(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	views := make([]entryView, len(entries))
	for i, e := range entries {
		views[i] = entryView{CacheEntry: e, Size: e.Size()}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AdminHandler) purge(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bucket(w, r)
	if !ok {
		return
	}
	if err := b.Purge(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("purged bucket", "bucket", b.Name(), "request_id", RequestIDFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := cache.SweepAll(r.Context(), h.engine.Storage())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *AdminHandler) bucket(w http.ResponseWriter, r *http.Request) (cache.Bucket, bool) {
	b, err := h.engine.Storage().Existing(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return b, true
}

func (h *AdminHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrBucketNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("admin request failed", "error", err)
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := shared.MarshalJSON(map[string]string{"error": msg}, false)
	w.Write(data)
}
