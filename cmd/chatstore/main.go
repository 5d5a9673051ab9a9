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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/chatstore"
	"github.com/poiesic/chatstore/config"
	"github.com/poiesic/chatstore/export"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/sweep"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chatstore",
		Usage: "Maintenance tool for the chat message store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Read settings from these .env files before the environment",
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Storage backend (memory, sqlite, postgres, badger); overrides CHATSTORE_BACKEND",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "Relational data source name; overrides CHATSTORE_DSN",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory; overrides CHATSTORE_BADGER_PATH",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create the relational schema",
				Action: migrateCommand,
			},
			{
				Name:   "sweep",
				Usage:  "Remove expired sessions, tokens and invitations",
				Action: sweepCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "resolved",
						Usage: "Also remove accepted and rejected channel invitations",
					},
					&cli.Float64Flag{
						Name:  "gc-ratio",
						Usage: "Compact the Badger value log afterwards at this discard ratio (0 disables)",
						Value: 0,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Count stored entities of every kind",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print counts as a JSON object",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Write every entity of one kind as JSON lines",
				Action: exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "entity",
						Aliases:  []string{"e"},
						Usage:    "Entity kind (" + strings.Join(export.Kinds(), ", ") + ")",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "sort",
						Usage: "Field to sort by",
					},
					&cli.StringFlag{
						Name:  "direction",
						Usage: "Sort direction (asc, desc)",
						Value: "asc",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of entities read per transaction",
						Value: storage.DefaultBatchSize,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (default stdout)",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress on stderr every N records (0 disables)",
						Value: 0,
					},
				},
			},
		},
	}
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet("backend") {
		cfg.Backend = strings.ToLower(c.String("backend"))
	}
	if c.IsSet("dsn") {
		cfg.DSN = c.String("dsn")
	}
	if c.IsSet("db") {
		cfg.BadgerPath = c.String("db")
		if !c.IsSet("backend") {
			cfg.Backend = config.BackendBadger
		}
	}
	return cfg, cfg.Validate()
}

func openDatabase(c *cli.Context) (*chatstore.Database, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return chatstore.Open(cfg, chatstore.WithLogger(slog.Default()))
}

func migrateCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(c.Context); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "schema is up to date (%s)\n", db.Config().Backend)
	return nil
}

func sweepCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	sweeper, err := db.NewSweeper(sweep.WithResolvedInvitations(c.Bool("resolved")))
	if err != nil {
		return err
	}
	report, err := sweeper.Run(c.Context)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	for _, entity := range storage.Entities {
		if n, ok := report.Removed[entity]; ok {
			fmt.Fprintf(c.App.Writer, "%-20s %d\n", entity, n)
		}
	}
	if c.Bool("resolved") {
		fmt.Fprintf(c.App.Writer, "%-20s %d\n", "resolved_invitation", report.Resolved)
	}
	fmt.Fprintf(c.App.Writer, "%-20s %d\n", "total", report.Total())

	if ratio := c.Float64("gc-ratio"); ratio > 0 {
		rewritten, err := db.CollectGarbage(ratio)
		if err != nil {
			return fmt.Errorf("value log compaction failed: %w", err)
		}
		slog.Info("value log compacted", "rewritten", rewritten)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}
	for _, entity := range storage.Entities {
		fmt.Fprintf(c.App.Writer, "%-20s %d\n", entity, counts[entity])
	}
	return nil
}

func exportCommand(c *cli.Context) error {
	direction, err := pagination.ParseDirection(c.String("direction"))
	if err != nil {
		return err
	}
	sort := pagination.Sort{By: c.String("sort"), Direction: direction}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []export.Option{export.WithBatchSize(c.Int("batch-size"))}
	if n := c.Int("report-interval"); n > 0 {
		opts = append(opts, export.WithProgress(c.App.ErrWriter, n))
	}
	exporter, err := db.NewExporter(opts...)
	if err != nil {
		return err
	}

	var out io.Writer = c.App.Writer
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	n, err := exporter.Export(c.Context, c.String("entity"), sort, out)
	if err != nil {
		return fmt.Errorf("export failed after %d records: %w", n, err)
	}
	slog.Info("export complete", "entity", c.String("entity"), "records", n)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

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

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
