package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies every pending migration to the configured schema.
func RunMigrations(ctx context.Context, cfg Config) error {
	slog.Info("Running database migrations...")

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	connConfig, err := pgx.ParseConfig(cfg.Url)
	if err != nil {
		return fmt.Errorf("unable to parse database url: %w", err)
	}
	connConfig.RuntimeParams["search_path"] = schema

	sqlDB := stdlib.OpenDB(*connConfig)
	defer sqlDB.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("unable to create schema %s: %w", schema, err)
	}
	slog.Info("Schema is ready", "schema", schema)

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	if err != nil {
		return fmt.Errorf("unable to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "source", r.Source.Path, "duration", r.Duration)
	}

	slog.Info("Database migrations completed successfully", "applied", len(results))
	return nil
}
