package strategies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/desertthunder/swcache/internal/models"
	"github.com/desertthunder/swcache/internal/shared"
)

// Fetcher performs the network half of a strategy.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*models.CacheEntry, error)
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches over an [http.Client] and buffers the whole body.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client gets one that hands redirects back unfollowed.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{CheckRedirect: NoRedirects}
	}
	return &HTTPFetcher{client: client}
}

// NoRedirects is an [http.Client] CheckRedirect that returns 3xx responses to the caller,
// so the browser sees the redirect and follows it through the proxy itself.
func NoRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*models.CacheEntry, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	removeHopHeaders(out.Header)

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, classify(req, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(req, fmt.Errorf("failed to read response: %w", err))
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")

	return &models.CacheEntry{
		Key:    req.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// classify wraps err with [shared.ErrTimeout] or [shared.ErrNetwork] unless it already carries one.
func classify(req *http.Request, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, shared.ErrNetwork), errors.Is(err, shared.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %w", shared.ErrTimeout, req.URL, err)
	default:
		return fmt.Errorf("%w: %s: %w", shared.ErrNetwork, req.URL, err)
	}
}
