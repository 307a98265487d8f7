// package server contains the caching proxy's handlers, middleware and HTTP server
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/strategies"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows which mux patterns it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

const shutdownTimeout = 10 * time.Second

// Server runs the caching proxy and sweeps expired entries on an interval.
type Server struct {
	engine        *strategies.Engine
	origin        *url.URL
	logger        *log.Logger
	sweepInterval time.Duration
	handler       http.Handler
}

// New builds the proxy handler stack. A zero sweepInterval disables periodic sweeps.
func New(engine *strategies.Engine, origin *url.URL, logger *log.Logger, sweepInterval time.Duration) *Server {
	s := &Server{
		engine:        engine,
		origin:        origin,
		logger:        logger,
		sweepInterval: sweepInterval,
	}

	router := NewBasicRouter()
	router.Use(Recover(logger), RequestID(), Logging(logger))
	router.Handler(NewAdminHandler(engine, logger))
	router.Handler(NewProxyHandler(engine, origin, logger))
	s.handler = router

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully and
// waits for background revalidation to drain.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if s.sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sweepLoop(sweepCtx)
		}()
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", "addr", ln.Addr().String(), "origin", s.origin.String())
		errc <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errc:
		serveErr = err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	stopSweep()
	wg.Wait()
	s.engine.Wait()

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.SweepAll(ctx, s.engine.Storage())
			if err != nil {
				s.logger.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired entries", "removed", n)
			}
		}
	}
}
