// Package testutil provides throwaway databases for tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB opens a migrated SQLite database in a temporary directory that
// is removed when the test ends. Several connections share the file, so
// concurrent transactions behave as they would across nodes.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "gofire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.Migrate(context.Background(), conn, db.SQLiteDialect, lock.NoopDistributedLockManager{}, logger.Nop()))
	return conn
}
