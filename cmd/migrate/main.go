// Package main applies the embedded PostgreSQL schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"stockflow/internal/infrastructure/config"
	"stockflow/internal/infrastructure/storage/postgres"
	"stockflow/pkg/logger"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(logger.Config{Level: logLevel, Development: true, Service: "stockflow-migrate"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (STOCKFLOW_DATABASE_URL)")
	}

	m, err := postgres.NewMigrator(cfg.Database.URL, log)
	if err != nil {
		log.Fatalw("failed to open migrator", "error", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warnw("failed to close migrator", "error", err)
		}
	}()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(args) < 2 {
			log.Fatal("step count required. Usage: migrate steps <n>")
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			log.Fatalw("invalid step count", "value", args[1], "error", convErr)
		}
		err = m.Steps(n)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			log.Fatalw("failed to read version", "error", verr)
		}
		log.Infow("schema version", "version", version, "dirty", dirty)
		return
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalw("migration failed", "command", command, "error", err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: migrate [flags] <command> [args]

Commands:
  up          Apply all pending migrations
  down        Roll back all migrations
  steps <n>   Apply n migrations (negative n rolls back)
  version     Print the current schema version

Flags:
`)
	flag.PrintDefaults()
}
