package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/safar/go-cart-store/internal/config"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/logger"
	"github.com/safar/go-cart-store/migrations"
)

func main() {
	if len(os.Args) < 2 {
		slog.Error("Usage: go run scripts/run_migrations.go [up|down]")
		os.Exit(2)
	}

	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: cfg.App.Name + "-migrate",
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
	})

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := database.Migrate(context.Background(), db, migrations.FS, direction)
	if err != nil {
		log.Error("run migrations", "direction", direction, "error", err)
		os.Exit(1)
	}

	for _, name := range applied {
		log.Info("ran migration", "file", name)
	}
	log.Info("migrations complete", "count", len(applied), "direction", direction)
}
