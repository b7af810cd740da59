package repositories

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestInitDatabase_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trustkeeper.db")

	repos, err := InitDatabase(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	require.NoError(t, repos.DB.PingContext(ctx))
	assert.True(t, tableExists(t, repos.DB, "goose_db_version"))
	assert.True(t, tableExists(t, repos.DB, "metadata"))

	require.NoError(t, repos.Metadata.Set(ctx, "health", []byte("ok")))
	v, err := repos.Metadata.Get(ctx, "health")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trustkeeper.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db))
	assert.True(t, tableExists(t, db, "metadata"))
}

func TestInitDatabase_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trustkeeper.db")

	repos, err := InitDatabase(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repos.Metadata.Set(ctx, "k", []byte{7}))
	require.NoError(t, repos.Close())

	repos, err = InitDatabase(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	v, err := repos.Metadata.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, v)
}

func TestInitDatabase_BadPath(t *testing.T) {
	_, err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "missing", "x.db"))
	assert.Error(t, err)
}

func TestRepositories_CloseNil(t *testing.T) {
	var r *Repositories
	assert.NoError(t, r.Close())
}
