package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/swcache/internal/formatter"
	"github.com/desertthunder/swcache/internal/shared"
	"github.com/urfave/cli/v3"
)

// Route prints the decision the rule table makes for a single URL.
//
// A URL no rule matches is not an error: the request passes through to the network.
func (r *Runner) Route(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("url")
	if raw == "" {
		return fmt.Errorf("%w: url", shared.ErrMissingArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	router, err := r.Router()
	if err != nil {
		return err
	}

	decision := router.Decide(raw)
	r.logger.Debug("routed", "url", decision.URL, "matched", decision.Matched)

	data, err := formatter.Decision(decision, format)
	if err != nil {
		return err
	}
	return r.emit(cmd, data)
}

// Rules prints the rule table in match order.
func (r *Runner) Rules(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	router, err := r.Router()
	if err != nil {
		return err
	}

	data, err := formatter.Rules(router.Rules(), format)
	if err != nil {
		return err
	}
	return r.emit(cmd, data)
}

// emit writes rendered output to --output when set, stdout otherwise.
func (r *Runner) emit(cmd *cli.Command, data []byte) error {
	path := cmd.String("output")
	if path == "" {
		return r.writeBytes(data)
	}

	if err := formatter.WriteExport(path, data); err != nil {
		return err
	}
	r.logger.Info("wrote output", "path", path, "bytes", len(data))
	return nil
}
