// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, markdown, csv or json",
		Value:   "text",
	}
}

func outputFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write to a file instead of stdout",
	}
}

// serveCommand runs the caching proxy
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the caching proxy in front of the app origin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides server.port)",
			},
			&cli.StringFlag{
				Name:  "origin",
				Usage: "App origin (overrides proxy.origin)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Cache backend: memory, sqlite or redis (overrides cache.backend)",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the proxied app in a browser once listening",
			},
		},
		Action: r.Serve,
	}
}

// routeCommand explains which rule handles a URL
func routeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "route",
		Usage: "Show the rule and bucket a URL is routed to",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "url"},
		},
		Flags:  []cli.Flag{formatFlag()},
		Action: r.Route,
	}
}

// rulesCommand prints the rule table
func rulesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "rules",
		Usage:  "Print the rule table in match order",
		Flags:  []cli.Flag{formatFlag(), outputFlag()},
		Action: r.Rules,
	}
}

// cacheCommand manages bucket contents
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and manage cache buckets",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show entry counts and sizes per bucket",
				Flags:  []cli.Flag{formatFlag(), outputFlag()},
				Action: r.CacheStats,
			},
			{
				Name:  "entries",
				Usage: "List the entries of a bucket, least recently used first",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "bucket"},
				},
				Flags:  []cli.Flag{formatFlag(), outputFlag()},
				Action: r.CacheEntries,
			},
			{
				Name:  "show",
				Usage: "Show one cached entry without changing its recency",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "bucket"},
					&cli.StringArg{Name: "key"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the entry, body included, as JSON",
					},
				},
				Action: r.CacheShow,
			},
			{
				Name:  "purge",
				Usage: "Remove every entry of a bucket",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "bucket"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Purge every bucket",
					},
				},
				Action: r.CachePurge,
			},
			{
				Name:   "sweep",
				Usage:  "Delete expired entries from every bucket",
				Action: r.CacheSweep,
			},
		},
	}
}

// setupCommand initializes configuration and storage
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and storage",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the SQLite database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// inspectCommand launches the bucket browser
func inspectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Browse buckets and entries in a terminal UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the UI owns the terminal",
				Value: "./tmp/swcache-inspect.log",
			},
		},
		Action: r.Inspect,
	}
}
