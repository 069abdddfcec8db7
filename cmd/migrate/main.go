package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/safar/souk/internal/config"
	"github.com/safar/souk/internal/database"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		logger.Error("usage: migrate [up|down]")
		os.Exit(2)
	}
	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	files, err := database.MigrationFiles(cfg.Database.Driver, direction)
	if err != nil {
		logger.Error("list migrations", "error", err)
		os.Exit(1)
	}
	for _, f := range files {
		logger.Info("pending migration", "file", f)
	}

	n, err := database.Migrate(context.Background(), db, direction)
	if err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	logger.Info("migrations complete", "count", n, "direction", direction, "driver", cfg.Database.Driver)
}
