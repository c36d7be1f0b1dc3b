package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/retailpos/retailpos/internal/app"
	"github.com/retailpos/retailpos/internal/platform/db"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(cfg, logger, args); err != nil {
		logger.Error("migrate", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *app.Config, logger *slog.Logger, args []string) error {
	migrator, err := db.NewMigrator(cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps requires a count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("steps: invalid count %q: %w", args[1], err)
		}
		return migrator.Steps(n)
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		logger.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: migrate <command> [args]

Commands:
  up          apply all pending migrations
  down        roll back every migration
  steps N     apply N migrations (negative rolls back)
  version     print the current schema version

PG_DSN selects the database.
`)
}
