// ABOUTME: Contract tests for the directory schema to detect breaking schema changes.
// ABOUTME: Validates that expected tables, columns and indexes exist after migration.

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huerto-gateway/internal/store"
)

// expectedSchema is what other services reading the directory rely on.
var expectedSchema = map[string][]string{
	"principals": {
		"principal_id", "email", "password_hash",
		"role", "display_name", "created_at", "updated_at",
	},
	"recovery_codes": {
		"email", "code", "created_at", "attempts",
	},
}

// setupTestDB migrates a fresh SQLite directory and opens a second
// connection for schema inspection.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	s, err := store.Open(context.Background(), store.DriverSQLite, dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		s.Close()
	})

	return db
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

func namesOf(ctx context.Context, t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := tableColumns(ctx, db, table)
			require.NoError(t, err)
			require.NotEmpty(t, actualCols, "table %s should exist", table)

			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}
			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

func TestTablesExist(t *testing.T) {
	db := setupTestDB(t)
	tables := namesOf(context.Background(), t, db, "table")

	for table := range expectedSchema {
		assert.True(t, tables[table], "table %s should exist", table)
	}
	assert.True(t, tables["goose_db_version"], "migrations should be tracked by goose")
}

func TestSchemaHasIndexes(t *testing.T) {
	db := setupTestDB(t)
	indexes := namesOf(context.Background(), t, db, "index")

	// the recovery sweeper deletes by age
	assert.True(t, indexes["idx_recovery_codes_created_at"])
}

func TestEmailIsUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	insert := `INSERT INTO principals (principal_id, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, 'x', 'usuario', 0, 0)`
	_, err := db.ExecContext(ctx, insert, "p1", "ana@huerto.cl")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "p2", "ana@huerto.cl")
	assert.Error(t, err, "a second principal with the same email must be rejected")
}
