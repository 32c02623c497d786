package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE repair_orders SET status_code=?, status_name=? WHERE external_id=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE repair_orders SET status_code=$1, status_name=$2 WHERE external_id=$3`, Postgres.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{"": SQLite, "sqlite": SQLite, "Postgres": Postgres, "pgx": Postgres}
	for in, want := range cases {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, dialect)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(dir, ".repairsync", defaultDBName))
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, _, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
