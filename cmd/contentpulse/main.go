// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/contentpulse"
	"github.com/poiesic/contentpulse/config"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/pipeline"
	"github.com/poiesic/contentpulse/storage"
	"github.com/poiesic/contentpulse/storage/badger"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "contentpulse",
		Usage: "Turn news and community feeds into content topic suggestions",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file, may be repeated (later files win)",
				EnvVars: []string{"CONTENTPULSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the config",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides the config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set log output format (text, json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run scheduled pipeline cycles until interrupted",
				Action: serveCommand,
			},
			stageCommand("cycle", "Run one full pipeline cycle now", (*contentpulse.Engine).RunCycle),
			stageCommand("ingest", "Fetch configured feeds into the store", (*contentpulse.Engine).Ingest),
			stageCommand("embed", "Embed stored items that have no vector yet", (*contentpulse.Engine).Embed),
			stageCommand("suggest", "Retrieve candidates and synthesize suggestions", (*contentpulse.Engine).Suggest),
			stageCommand("cleanup", "Apply the retention policy", (*contentpulse.Engine).Cleanup),
			{
				Name:      "search",
				Usage:     "Find stored items similar to a query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum hits per source",
						Value:   5,
					},
				},
			},
			{
				Name:   "suggestions",
				Usage:  "List the most recent suggestions",
				Action: suggestionsCommand,
				Flags:  listFlags(),
			},
			{
				Name:   "runs",
				Usage:  "List the most recent pipeline runs",
				Action: runsCommand,
				Flags:  listFlags(),
			},
		},
	}
}

func listFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of records to show",
			Value:   10,
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print records as JSON",
		},
	}
}

// setup loads the configuration and installs the default logger. Flags win
// over the config file.
func setup(c *cli.Context) error {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return err
	}
	cfg, err := config.Load(c.StringSlice("config")...)
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if err := setupLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func setupLogger(levelStr, format string) error {
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

// withEngine builds the engine for one command and stops it on SIGINT or
// SIGTERM.
func withEngine(c *cli.Context, fn func(ctx context.Context, engine *contentpulse.Engine) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := contentpulse.NewEngine(ctx, configFrom(c))
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Close()

	return fn(ctx, engine)
}

func serveCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, engine *contentpulse.Engine) error {
		return engine.Serve(ctx)
	})
}

func stageCommand(name, usage string, run func(*contentpulse.Engine, context.Context) (*core.PipelineRun, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the run record as JSON"},
		},
		Action: func(c *cli.Context) error {
			return withEngine(c, func(ctx context.Context, engine *contentpulse.Engine) error {
				result, err := run(engine, ctx)
				if errors.Is(err, pipeline.ErrCycleActive) {
					return fmt.Errorf("%s: %w", name, err)
				}
				if result != nil {
					if printErr := printRun(c.App.Writer, result, c.Bool("json")); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a search query is required")
	}
	return withEngine(c, func(ctx context.Context, engine *contentpulse.Engine) error {
		hits, err := engine.Search(ctx, query, c.Int("limit"))
		if err != nil {
			return err
		}
		return printHits(c.App.Writer, hits)
	})
}

// openStore opens the store alone for read-only listings.
func openStore(c *cli.Context) (storage.Store, error) {
	cfg := configFrom(c)
	store, err := badger.OpenStore(cfg.Store.Path, cfg.AI.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func suggestionsCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	suggestions, err := store.RecentSuggestions(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return printSuggestions(c.App.Writer, suggestions, c.Bool("json"))
}

func runsCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return printRuns(c.App.Writer, runs, c.Bool("json"))
}
