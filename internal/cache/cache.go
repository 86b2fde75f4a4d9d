// Package cache owns the client's persistent SQLite state: opening and
// creating the database file at a path derived from the session id, the
// schema-version ladder, and the commit policy. The returned DB keeps one
// transaction open at all times; Commit atomically ends it and starts the
// next, so a batch of logically-related writes (one reconciliation pass, one
// scsn marker) either lands together or not at all.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

var (
	// ErrNotExists means there is no cache file at the derived path.
	ErrNotExists = errors.New("cache does not exist")
	// ErrNoVersion means the file opened but carries no schema version row;
	// the cache is structurally unreadable.
	ErrNoVersion = errors.New("cache has no schema version")
	// ErrIncompatible means the stored schema version cannot be migrated to
	// the current one. Callers treat the cache as absent, not corrupt.
	ErrIncompatible = errors.New("cache schema is incompatible")
	// ErrBadSessionID means the session id is too short to derive a cache
	// file name from.
	ErrBadSessionID = errors.New("session id too short")
)

// Session tokens carry a fixed 44-byte account prefix; the tail past it is
// unique per session and names the cache file. Tokens shorter than the floor
// cannot be real sessions.
const (
	minSessionIDLen  = 50
	sidAccountPrefix = 44
)

// PathForSession returns the cache file path for a session id, or the
// anonymous-preview path when sid is empty.
func PathForSession(appDir, sid string) (string, error) {
	if sid == "" {
		return filepath.Join(appDir, "karere-anonymous.db"), nil
	}
	if len(sid) < minSessionIDLen {
		return "", ErrBadSessionID
	}
	return filepath.Join(appDir, "karere-"+sid[sidAccountPrefix:]+".db"), nil
}

// Wipe removes the cache file at path. Missing files are fine.
func Wipe(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("wipe cache: %w", err)
	}
	return nil
}

// DB is the open cache. It satisfies dbx.DBTX by delegating every statement to
// the always-open transaction.
type DB struct {
	sql *sql.DB
	tx  *sql.Tx
	log logging.Logger

	commitEach     bool
	commitInterval time.Duration
	lastCommit     time.Time
}

// Open opens an existing cache file and brings its schema up to date through
// the migration ladder. It returns ErrNotExists, ErrNoVersion or
// ErrIncompatible when the cache must be treated as absent.
func Open(ctx context.Context, path string, backend remote.Backend, log logging.Logger) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNotExists
	}

	sdb, err := openFile(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	m := &Migrator{db: sdb, backend: backend, log: log}
	outcome, err := m.Run(ctx)
	if err != nil {
		_ = sdb.Close()
		return nil, err
	}
	if outcome == Incompatible {
		_ = sdb.Close()
		return nil, ErrIncompatible
	}

	return newDB(ctx, sdb, log)
}

// Create builds a fresh cache at path, wiping any previous file first. The
// schema is applied through the embedded goose migrations and stamped with the
// current version string.
func Create(ctx context.Context, path string, log logging.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := Wipe(path); err != nil {
		return nil, err
	}

	sdb, err := openFile(path)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sdb, "migrations"); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if _, err := sdb.ExecContext(ctx,
		`INSERT INTO vars(name, value) VALUES ('schema_version', ?)`, SchemaVersion()); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("stamp schema version: %w", err)
	}

	return newDB(ctx, sdb, log)
}

func openFile(path string) (*sql.DB, error) {
	sdb, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, err
	}
	// one connection: the open transaction is the engine's view of the cache
	sdb.SetMaxOpenConns(1)
	return sdb, nil
}

func newDB(ctx context.Context, sdb *sql.DB, log logging.Logger) (*DB, error) {
	db := &DB{sql: sdb, log: log, lastCommit: time.Now()}
	if err := db.begin(ctx); err != nil {
		_ = sdb.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) begin(ctx context.Context) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache transaction: %w", err)
	}
	d.tx = tx
	return nil
}

// SetCommitEach switches between commit-per-operation and batched commits.
func (d *DB) SetCommitEach(v bool) { d.commitEach = v }

// SetCommitInterval sets the batched-commit flush interval used by TimedCommit.
func (d *DB) SetCommitInterval(iv time.Duration) { d.commitInterval = iv }

// Commit atomically ends the open transaction and starts the next one.
func (d *DB) Commit(ctx context.Context) error {
	if d.tx == nil {
		return errors.New("cache is closed")
	}
	if err := d.tx.Commit(); err != nil {
		d.tx = nil
		return fmt.Errorf("commit cache: %w", err)
	}
	metrics.Commits.Inc()
	d.lastCommit = time.Now()
	return d.begin(ctx)
}

// TimedCommit commits if the batched-commit interval elapsed since the last
// commit. No-op in commit-each mode.
func (d *DB) TimedCommit(ctx context.Context) error {
	if d.commitEach || d.commitInterval <= 0 {
		return nil
	}
	if time.Since(d.lastCommit) < d.commitInterval {
		return nil
	}
	return d.Commit(ctx)
}

// IsOpen reports whether the cache is usable.
func (d *DB) IsOpen() bool { return d != nil && d.tx != nil }

// Close abandons any uncommitted writes and closes the file. Uncommitted
// state is recovered from on the next startup by the scsn mismatch check.
func (d *DB) Close() error {
	if d.tx != nil {
		_ = d.tx.Rollback()
		d.tx = nil
	}
	if d.sql == nil {
		return nil
	}
	err := d.sql.Close()
	d.sql = nil
	return err
}

// ExecContext runs a statement inside the open transaction. In commit-each
// mode the transaction is committed immediately afterwards.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return res, err
	}
	if d.commitEach {
		if cerr := d.Commit(ctx); cerr != nil {
			return res, cerr
		}
	}
	return res, nil
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.tx.QueryContext(ctx, query, args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.tx.QueryRowContext(ctx, query, args...)
}
