package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationFiles lists *.sql files in dir in version order.
func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("glob migration files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// migrationLockID serialises migration runs across the API and worker
// processes, which both migrate on startup.
const migrationLockID = 7_310_042

// RunMigrations applies every *.sql file in migrationsPath that is not yet
// recorded in schema_migrations, one transaction per file.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsPath string) error {
	files, err := migrationFiles(migrationsPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Warn("no migrations found", "path", migrationsPath)
		return nil
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := 0
	for _, f := range files {
		ok, err := applyMigration(ctx, conn.Conn(), f)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	slog.Info("migrations up to date", "applied", applied, "total", len(files))
	return nil
}

func applyMigration(ctx context.Context, conn *pgx.Conn, file string) (bool, error) {
	version := filepath.Base(file)

	var exists bool
	err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)", version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return false, nil
	}

	sql, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	slog.Info("applied migration", "version", version)
	return true, nil
}
