package migrate

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCreatesTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewRunner(db).Run())

	for _, table := range []string{"logs", "settings", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	require.NoError(t, r.Run())
	require.NoError(t, r.Run())

	cur, pending, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cur)
	assert.Zero(t, pending)
}

func TestStatusBeforeRun(t *testing.T) {
	db := openTestDB(t)

	cur, pending, err := NewRunner(db).Status()
	require.NoError(t, err)
	assert.Zero(t, cur)
	assert.Equal(t, 1, pending)
}

func TestRunRejectsNewerSchema(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)
	require.NoError(t, r.Run())

	_, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", SchemaVersion+1, "future.sql")
	require.NoError(t, err)

	assert.Error(t, r.Run())
}
