package db

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect carries what differs between the supported SQL stores.
type Dialect struct {
	Name        string
	DriverName  string
	Placeholder sq.PlaceholderFormat
}

var (
	PostgresDialect = Dialect{Name: "postgres", DriverName: "postgres", Placeholder: sq.Dollar}
	SQLiteDialect   = Dialect{Name: "sqlite", DriverName: "sqlite3", Placeholder: sq.Question}
)

// Builder returns a squirrel statement builder using the dialect's placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// DistributedLockManager returns the migration guard suited to the dialect.
func (d Dialect) DistributedLockManager(db *sql.DB) lock.DistributedLockManager {
	if d.Name == PostgresDialect.Name {
		return lock.NewPostgresDistributedLockManager(db)
	}
	return lock.NoopDistributedLockManager{}
}

func DialectFor(driver config.StorageDriver) (Dialect, error) {
	switch driver {
	case config.Postgres:
		return PostgresDialect, nil
	case config.SQLite:
		return SQLiteDialect, nil
	}
	return Dialect{}, fmt.Errorf("unsupported storage driver: %v", driver)
}

// Open connects to the store configured in cfg and verifies the connection.
func Open(cfg *config.GofireConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.StorageDriver)
	if err != nil {
		return nil, Dialect{}, err
	}

	var db *sql.DB
	switch cfg.StorageDriver {
	case config.Postgres:
		db, err = OpenPostgres(cfg.PostgresConfig.ConnectionUrl)
	case config.SQLite:
		db, err = OpenSQLite(cfg.SQLiteConfig.Path)
	}
	if err != nil {
		return nil, Dialect{}, err
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	return db, dialect, nil
}

func OpenPostgres(connectionURL string) (*sql.DB, error) {
	db, err := sql.Open(PostgresDialect.DriverName, connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenSQLite opens a database file in WAL mode. Transactions take the write
// lock up front (BEGIN IMMEDIATE) and wait on a busy timeout, so concurrent
// writers queue instead of failing.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open(SQLiteDialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	return db, nil
}
