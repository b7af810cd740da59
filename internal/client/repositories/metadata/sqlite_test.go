package metadata

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/trustkeeper/internal/dbx"
)

const schema = `CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL)`

func openRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)
	return NewSQLiteRepository(db), db
}

func TestSQLiteRepository_Lifecycle(t *testing.T) {
	r, _ := openRepo(t)
	ctx := context.Background()

	v, err := r.Get(ctx, KeyDeviceBinding)
	require.NoError(t, err)
	assert.Nil(t, v, "missing key reads as nil")

	require.NoError(t, r.Set(ctx, KeyDeviceBinding, []byte("sealed-1")))
	require.NoError(t, r.Set(ctx, KeyDeviceBinding, []byte("sealed-2")))
	require.NoError(t, r.Set(ctx, KeyInstallationID, []byte("4f1c")))

	v, err = r.Get(ctx, KeyDeviceBinding)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-2"), v)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		KeyDeviceBinding:  []byte("sealed-2"),
		KeyInstallationID: []byte("4f1c"),
	}, all)

	require.NoError(t, r.Delete(ctx, KeyDeviceBinding))
	require.NoError(t, r.Delete(ctx, KeyDeviceBinding))
	v, err = r.Get(ctx, KeyDeviceBinding)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, r.Clear(ctx))
	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteRepository_NilValueStoredEmpty(t *testing.T) {
	r, _ := openRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeySessionIdentity, nil))
	v, err := r.Get(ctx, KeySessionIdentity)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Empty(t, v)
}

func TestSQLiteRepository_DeletePrefix(t *testing.T) {
	r, _ := openRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeySessionToken, []byte("t")))
	require.NoError(t, r.Set(ctx, KeySessionIdentity, []byte("a@x.com")))
	require.NoError(t, r.Set(ctx, "sessionless", []byte("keep")))
	require.NoError(t, r.Set(ctx, KeyInstallationID, []byte("id")))

	require.NoError(t, r.DeletePrefix(ctx, "session."))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sessionless", KeyInstallationID}, keys(all))
}

func TestSQLiteRepository_RolledBackWithTransaction(t *testing.T) {
	r, db := openRepo(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		require.NoError(t, NewSQLiteRepository(tx).Set(ctx, KeySessionToken, []byte("t")))
		return errors.New("abort")
	})
	require.Error(t, err)

	v, err := r.Get(ctx, KeySessionToken)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLiteRepository_ErrorsWrapped(t *testing.T) {
	boom := errors.New("database is locked")

	tests := []struct {
		name   string
		expect func(m sqlmock.Sqlmock)
		call   func(ctx context.Context, r *SQLiteRepository) error
		want   string
	}{
		{
			name:   "get",
			expect: func(m sqlmock.Sqlmock) { m.ExpectQuery("SELECT value FROM metadata").WithArgs("k").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { _, err := r.Get(ctx, "k"); return err },
			want:   "failed to get metadata[k]",
		},
		{
			name:   "set",
			expect: func(m sqlmock.Sqlmock) { m.ExpectExec("INSERT INTO metadata").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { return r.Set(ctx, "k", []byte("v")) },
			want:   "failed to set metadata[k]",
		},
		{
			name:   "delete",
			expect: func(m sqlmock.Sqlmock) { m.ExpectExec("DELETE FROM metadata WHERE key").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { return r.Delete(ctx, "k") },
			want:   "failed to delete metadata[k]",
		},
		{
			name:   "delete prefix",
			expect: func(m sqlmock.Sqlmock) { m.ExpectExec("DELETE FROM metadata WHERE substr").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { return r.DeletePrefix(ctx, "session.") },
			want:   "failed to delete metadata[session.*]",
		},
		{
			name:   "clear",
			expect: func(m sqlmock.Sqlmock) { m.ExpectExec("DELETE FROM metadata").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { return r.Clear(ctx) },
			want:   "failed to clear metadata",
		},
		{
			name:   "list",
			expect: func(m sqlmock.Sqlmock) { m.ExpectQuery("SELECT key, value FROM metadata").WillReturnError(boom) },
			call:   func(ctx context.Context, r *SQLiteRepository) error { _, err := r.List(ctx); return err },
			want:   "failed to list metadata",
		},
		{
			name: "list row error",
			expect: func(m sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"key", "value"}).AddRow("a", []byte("1")).RowError(0, boom)
				m.ExpectQuery("SELECT key, value FROM metadata").WillReturnRows(rows)
			},
			call: func(ctx context.Context, r *SQLiteRepository) error { _, err := r.List(ctx); return err },
			want: "failed to iterate metadata rows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.expect(mock)

			err = tt.call(context.Background(), NewSQLiteRepository(db))
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
