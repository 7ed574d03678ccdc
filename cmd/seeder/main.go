// CLAUDE:SUMMARY seeder CLI: validate/count source files, run syncs against the knowledge store, inspect and requeue state, preview extraction.
// CLAUDE:DEPENDS seeder (facade), urfave/cli/v2
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seeder/seeder"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("seeder", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "seeder",
		Usage: "Ingest curated source lists into the knowledge store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file; SEEDER_* variables override it",
				EnvVars: []string{"SEEDER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "debug, info, warn or error",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
				Value: "text",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			validateCommand(),
			countCommand(),
			initCommand(),
			syncCommand(),
			statusCommand(),
			listCommand(),
			failedCommand(),
			fetchCommand(),
			qualityCommand(),
			healthCommand(),
		},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.String("log-format") {
	case "json":
		h = slog.NewJSONHandler(c.App.ErrWriter, opts)
	case "text", "":
		h = slog.NewTextHandler(c.App.ErrWriter, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.String("log-format"))
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func loadConfig(c *cli.Context) (*seeder.Config, error) {
	return seeder.LoadConfig(c.String("config"))
}

func openService(c *cli.Context) (*seeder.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return seeder.New(cfg, slog.Default())
}

func requireArgs(c *cli.Context, what string) ([]string, error) {
	if c.NArg() == 0 {
		return nil, cli.Exit(fmt.Sprintf("%s: at least one %s is required", c.Command.Name, what), 2)
	}
	return c.Args().Slice(), nil
}
