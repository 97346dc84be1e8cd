package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/timecontrol/config"
	"github.com/liamcoop/timecontrol/internal/logger"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to the configured database.url)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		cfg, err := config.Load(os.Getenv("TIMECONTROL_CONFIG_DIR"))
		if err == nil {
			databaseURL = cfg.Database.URL
		}
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required; use -database or TIMECONTROL_DATABASE_URL")
	}

	logger.Info("connecting to database", slog.String("migrations", migrationsPath))

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", slog.Any("error", err))
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
			return
		}
		if err != nil {
			logger.Fatal("failed to run migrations", slog.Any("error", err))
		}
		logger.Info("migrations completed")

	case "down":
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to roll back migrations", slog.Any("error", err))
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to get version", slog.Any("error", err))
		}
		logger.Info("current version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	case "force":
		if flag.NArg() < 1 {
			logger.Fatal("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			logger.Fatal("invalid version number", slog.Any("error", err))
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", slog.Any("error", err))
		}
		logger.Info("forced version", slog.Int("version", version))

	default:
		logger.Fatal("unknown command, use up, down, version or force", slog.String("command", command))
	}
}
