package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttani03/lan-ipam/internal/logger"
)

var DB *pgxpool.Pool

//go:embed schema.sql
var schema string

func Connect(ctx context.Context, dbURL string) error {
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return fmt.Errorf("unable to parse database config: %w", err)
	}

	DB, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := DB.Ping(ctx); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	logger.Log().Info("connected to database")
	return nil
}

// ConnectWithRetry calls Connect up to attempts times, sleeping wait between
// tries, so the service can start before the database is ready.
func ConnectWithRetry(ctx context.Context, dbURL string, attempts int, wait time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = Connect(ctx, dbURL); err == nil {
			return nil
		}
		logger.Log().Warnf("connecting to database... attempt %d/%d: %v", i+1, attempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, err)
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context) error {
	if _, err := DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
	}
}
