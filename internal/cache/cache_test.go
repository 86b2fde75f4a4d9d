package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturetechnology/MEGAchat/logging"
)

func testSID() string {
	return strings.Repeat("A", 44) + "sessiontail123"
}

func TestPathForSession(t *testing.T) {
	p, err := PathForSession("/tmp/app", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/app", "karere-anonymous.db"), p)

	p, err = PathForSession("/tmp/app", testSID())
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/app", "karere-sessiontail123.db"), p)

	// the file name is everything past the fixed account prefix, whatever the
	// token length
	p, err = PathForSession("/tmp/app", strings.Repeat("B", 44)+"longersessiontail")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/app", "karere-longersessiontail.db"), p)

	_, err = PathForSession("/tmp/app", "short")
	require.ErrorIs(t, err, ErrBadSessionID)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "none.db"), &fakeBackend{}, logging.NewNopLogger())
	require.ErrorIs(t, err, ErrNotExists)
}

func TestCreateThenOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karere-test.db")

	db, err := Create(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	require.True(t, db.IsOpen())
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, &fakeBackend{}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var v string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT value FROM vars WHERE name = 'schema_version'`).Scan(&v))
	require.Equal(t, SchemaVersion(), v)
}

func TestCommit_UncommittedWritesAreLostOnClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karere-test.db")

	db, err := Create(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`INSERT INTO contacts(userid, email, visibility, since) VALUES (1, 'a@x', 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close()) // no commit: simulated crash

	db, err = Open(ctx, path, &fakeBackend{}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n))
	require.Zero(t, n)
}

func TestCommit_PersistsBatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karere-test.db")

	db, err := Create(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`INSERT INTO contacts(userid, email, visibility, since) VALUES (1, 'a@x', 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, &fakeBackend{}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestCommitEach_PersistsEveryWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karere-test.db")

	db, err := Create(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	db.SetCommitEach(true)

	_, err = db.ExecContext(ctx,
		`INSERT INTO contacts(userid, email, visibility, since) VALUES (2, 'b@x', 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close()) // no explicit commit needed

	db, err = Open(ctx, path, &fakeBackend{}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestTimedCommit_RespectsInterval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karere-test.db")

	db, err := Create(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetCommitInterval(time.Hour)

	_, err = db.ExecContext(ctx,
		`INSERT INTO contacts(userid, email, visibility, since) VALUES (3, 'c@x', 1, 0)`)
	require.NoError(t, err)

	before := db.lastCommit
	require.NoError(t, db.TimedCommit(ctx))
	require.Equal(t, before, db.lastCommit, "interval not elapsed, no commit")

	db.lastCommit = time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.TimedCommit(ctx))
	require.NotEqual(t, before, db.lastCommit)
}
