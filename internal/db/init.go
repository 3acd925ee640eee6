package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"go.uber.org/zap"
)

const migrationsTable = "gofire_schema_migrations"

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded schema scripts of the dialect that have not been applied yet.
// It ensures that only one node runs the migration logic at a time by using a distributed lock.
//
// The function performs the following steps:
//  1. Acquires the migration lock.
//  2. Creates the migrations bookkeeping table if it does not exist.
//  3. Applies every pending script in name order, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, distributedLock lock.DistributedLockManager, log *zap.SugaredLogger) error {
	if err := distributedLock.Acquire(ctx, lock.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(context.WithoutCancel(ctx), lock.MigrationLock); err != nil {
			log.Warnw("release migration lock", "error", err)
		}
	}()

	_, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (version TEXT PRIMARY KEY, applied_at BIGINT NOT NULL)", migrationsTable))
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	scripts, err := readSQLScripts(dialect)
	if err != nil {
		return err
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	builder := dialect.Builder()
	for _, script := range scripts {
		if applied[script.version] {
			continue
		}
		log.Infow("applying migration", "version", script.version, "dialect", dialect.Name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, script.body); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", script.version, err)
		}
		query, args, err := builder.Insert(migrationsTable).
			Columns("version", "applied_at").
			Values(script.version, time.Now().UnixMilli()).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", script.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

type sqlScript struct {
	version string
	body    string
}

func readSQLScripts(dialect Dialect) ([]sqlScript, error) {
	dir := path.Join("migrations", dialect.Name)
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, err
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(migrations, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{version: entry.Name(), body: string(content)})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
