package contacts

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aperturetechnology/MEGAchat/remote"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE contacts (userid INTEGER PRIMARY KEY, email TEXT, visibility INTEGER, since INTEGER)`)
	require.NoError(t, err)
	return db
}

func TestUpsertGetAll(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{UserID: 1, Email: "u1@x", Visibility: remote.VisibilityVisible, Since: 100}))
	require.NoError(t, r.Upsert(ctx, Row{UserID: 2, Email: "u2@x", Visibility: remote.VisibilityHidden, Since: 200}))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUpdateVisibility(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{UserID: 1, Email: "u1@x", Visibility: remote.VisibilityVisible, Since: 100}))
	require.NoError(t, r.UpdateVisibility(ctx, 1, remote.VisibilityHidden))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, remote.VisibilityHidden, all[0].Visibility)
	require.Equal(t, "u1@x", all[0].Email, "other columns untouched")
}

func TestDelete(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{UserID: 1, Email: "u1@x", Visibility: remote.VisibilityVisible}))
	require.NoError(t, r.Delete(ctx, 1))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
