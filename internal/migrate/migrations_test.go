package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairsync/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	first, err := Migrate(conn, dialect)
	require.NoError(t, err)
	assert.Equal(t, Result{From: 0, To: 1, Applied: 1}, first)

	second, err := Migrate(conn, dialect)
	require.NoError(t, err)
	assert.Equal(t, Result{From: 1, To: 1}, second)

	for _, table := range []string{"repair_orders", "order_service_lines", "order_statuses", "webhook_logs", "clients"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestEveryDialectHasTheSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	require.NoError(t, err)
	pg, err := loadMigrations(db.Postgres)
	require.NoError(t, err)
	require.Equal(t, len(lite), len(pg))
	for i := range lite {
		assert.Equal(t, lite[i].Version, pg[i].Version)
	}
}
