package main

import (
	"context"
	"fmt"
	"net"

	"github.com/desertthunder/swcache/internal/server"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/desertthunder/swcache/internal/strategies"
	"github.com/urfave/cli/v3"
)

// Serve runs the caching proxy until the context is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.Config()
	if cmd.IsSet("host") {
		config.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		config.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("origin") {
		config.Proxy.Origin = cmd.String("origin")
	}
	if cmd.IsSet("backend") {
		config.Cache.Backend = cmd.String("backend")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	engine, err := r.engine(ctx)
	if err != nil {
		return err
	}

	srv := server.New(engine, config.OriginURL(), r.logger, config.Cache.SweepInterval())

	ln, err := net.Listen("tcp", config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Server.Addr(), err)
	}

	r.logger.Info("starting cache proxy", "backend", config.Cache.Backend, "rules", len(engine.Router().Rules()))

	if cmd.Bool("open") {
		url := "http://" + ln.Addr().String() + "/"
		if err := shared.OpenBrowser(url); err != nil {
			r.logger.Warn("failed to open browser", "url", url, "error", err)
		}
	}

	return srv.Serve(ctx, ln)
}

func (r *Runner) engine(ctx context.Context) (*strategies.Engine, error) {
	router, err := r.Router()
	if err != nil {
		return nil, err
	}

	storage, err := r.Storage(ctx)
	if err != nil {
		return nil, err
	}

	config := r.Config()
	opts := []strategies.Option{
		strategies.WithLogger(shared.WithLogger(r.logger, "component", "engine")),
		strategies.WithRevalidateLimit(config.Cache.RevalidateRate, config.Cache.RevalidateBurst),
	}
	if r.clock != nil {
		opts = append(opts, strategies.WithClock(r.clock))
	}

	return strategies.New(router, storage, strategies.NewHTTPFetcher(r.client()), opts...), nil
}
