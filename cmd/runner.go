package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/swcache/internal/cache"
	"github.com/desertthunder/swcache/internal/policy"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/desertthunder/swcache/internal/strategies"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	router     *policy.Router
	storage    cache.Storage
	clock      cache.Clock
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A non-nil Config is used as-is and the --config flag is ignored.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Router     *policy.Router
	Storage    cache.Storage
	Clock      cache.Clock
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		router:     opts.Router,
		storage:    opts.Storage,
		clock:      opts.Clock,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, routeCommand, rulesCommand, cacheCommand, setupCommand, inspectCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config, falling back to defaults when the file is absent.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.configPath = cmd.String("config")

	if r.config == nil {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
			r.config = shared.DefaultConfig()
		}
	}

	level := r.config.Log.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

// After releases the cache storage if a command opened it.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	return r.Close()
}

// Close closes the cache storage, if open.
func (r *Runner) Close() error {
	if r.storage == nil {
		return nil
	}
	err := r.storage.Close()
	r.storage = nil
	return err
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Config returns the loaded configuration, or the defaults before [Runner.Before] has run.
func (r *Runner) Config() *shared.Config {
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	return r.config
}

// Router builds the rule table once, from cache.rules_path when set and the built-in table otherwise.
func (r *Runner) Router() (*policy.Router, error) {
	if r.router != nil {
		return r.router, nil
	}

	config := r.Config()
	origin := config.OriginURL()

	if config.Cache.RulesPath == "" {
		r.router = policy.DefaultRouter(origin)
		return r.router, nil
	}

	rules, err := policy.LoadRules(config.Cache.RulesPath, origin)
	if err != nil {
		return nil, err
	}

	router, err := policy.NewRouter(rules)
	if err != nil {
		return nil, err
	}

	r.logger.Info("loaded rule table", "path", config.Cache.RulesPath, "rules", len(rules))
	r.router = router
	return r.router, nil
}

// Storage opens the configured backend and registers every bucket of the rule table.
func (r *Runner) Storage(ctx context.Context) (cache.Storage, error) {
	if r.storage != nil {
		return r.storage, nil
	}

	router, err := r.Router()
	if err != nil {
		return nil, err
	}

	var opts []cache.Option
	if r.clock != nil {
		opts = append(opts, cache.WithClock(r.clock))
	}

	storage, err := cache.Open(ctx, r.Config(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache storage: %w", err)
	}

	if err := cache.Prepare(ctx, storage, router); err != nil {
		storage.Close()
		return nil, err
	}

	r.storage = storage
	return r.storage, nil
}

func (r *Runner) client() *http.Client {
	if r.httpClient == nil {
		r.httpClient = &http.Client{
			Timeout:       r.Config().Proxy.Timeout(),
			CheckRedirect: strategies.NoRedirects,
		}
	}
	return r.httpClient
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
