// Package db provides the Postgres-backed persistence layer: the pooled
// connection, embedded schema migrations, and the stores for jobs, api keys
// and webhook deliveries.
package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type DatabaseConnection struct {
	*pgxpool.Pool
}

const DefaultRetryCount = 15

// NewDatabaseConnection wraps the pool once it answers pings, retrying with
// a growing backoff so the service tolerates the database starting after it.
func NewDatabaseConnection(ctx context.Context, pool *pgxpool.Pool, retries int) (*DatabaseConnection, error) {
	if retries <= 0 {
		retries = DefaultRetryCount
	}
	for i := range retries {
		err := pool.Ping(ctx)
		if err == nil {
			return &DatabaseConnection{pool}, nil
		}

		// Golden ratio backoff
		fib := 1.61803398875
		sleep := time.Duration(float64(i)*fib) * time.Second
		slog.Warn("could not ping the database, retrying", "error", err, "sleep", sleep)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return nil, fmt.Errorf("could not connect to database after %d retries", retries)
}

// Close closes the database connection
func (db *DatabaseConnection) Close() {
	db.Pool.Close()
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

// Migrate runs the goose migrations up to the latest version.
func (db *DatabaseConnection) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	stdDb := stdlib.OpenDBFromPool(db.Pool)
	defer stdDb.Close()

	currentVersion, err := goose.GetDBVersionContext(ctx, stdDb)
	if err != nil {
		return err
	}
	slog.Info("running migrations", "current_version", currentVersion)

	return goose.UpContext(ctx, stdDb, "sql/migrations")
}
