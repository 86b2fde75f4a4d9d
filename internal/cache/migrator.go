package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aperturetechnology/MEGAchat/internal/dbx"
	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Outcome of a schema-version check.
type Outcome int

const (
	// Compatible: stored version already matches the current one.
	Compatible Outcome = iota
	// Migrated: one or more ladder steps were applied and the cache is now
	// at the current version.
	Migrated
	// Incompatible: no patch path reaches the current version; the cache
	// must be treated as absent.
	Incompatible
)

// Current message-type values for special messages. Caches at suffix 4 still
// carry the legacy 0x10..0x13 range and are remapped by the 4->5 step.
const (
	msgTypeAttachment       = 101
	msgTypeRevokeAttachment = 102
	msgTypeContact          = 103
	msgTypeContainsMeta     = 104

	legacyTypeAttachment       = 0x10
	legacyTypeRevokeAttachment = 0x11
	legacyTypeContact          = 0x12
	legacyTypeContainsMeta     = 0x13
)

// Migrator walks the one-step patch ladder from the stored schema version to
// the current one. Every step runs in its own transaction: it either fully
// applies and bumps the stored version, or leaves the cache at the pre-step
// version.
type Migrator struct {
	db      *sql.DB
	backend remote.Backend
	log     logging.Logger
}

func NewMigrator(db *sql.DB, backend remote.Backend, log logging.Logger) *Migrator {
	return &Migrator{db: db, backend: backend, log: log}
}

// step patches the schema from its suffix to the next one. It reports
// patched=false (with nil error) when the cache cannot be carried over and
// must be rebuilt.
type step func(ctx context.Context, m *Migrator, tx dbx.DBTX) (patched bool, err error)

var ladder = map[int]step{
	2: stepClearCachedHistory,
	3: stepReloadDeletedChats,
	4: stepNodeHistory,
	5: stepPublicChats,
}

// Run checks the stored schema version and applies ladder steps greedily
// until the current version is reached.
func (m *Migrator) Run(ctx context.Context) (Outcome, error) {
	stored, err := m.storedVersion(ctx)
	if err != nil {
		return Incompatible, err
	}
	if stored == SchemaVersion() {
		return Compatible, nil
	}

	// Only the suffix may be bridged; another hash means another lineage.
	sep := strings.LastIndexByte(stored, '_')
	if sep < 0 || stored[:sep] != schemaHash {
		m.log.Warn(ctx, "cache schema from a different lineage, rebuilding",
			"stored", stored, "current", SchemaVersion())
		return Incompatible, nil
	}
	suffix, err := strconv.Atoi(stored[sep+1:])
	if err != nil {
		return Incompatible, nil
	}
	current, _ := strconv.Atoi(schemaSuffix)

	for suffix < current {
		fn, ok := ladder[suffix]
		if !ok {
			m.log.Warn(ctx, "no migration path from cached schema version", "suffix", suffix)
			return Incompatible, nil
		}

		next := strconv.Itoa(suffix + 1)
		patched := false
		err := dbx.InTx(ctx, m.db, func(ctx context.Context, tx dbx.DBTX) error {
			var serr error
			patched, serr = fn(ctx, m, tx)
			if serr != nil || !patched {
				return serr
			}
			_, serr = tx.ExecContext(ctx,
				`UPDATE vars SET value = ? WHERE name = 'schema_version'`, SchemaVersionAt(next))
			return serr
		})
		if err != nil {
			return Incompatible, fmt.Errorf("migrate schema %d->%s: %w", suffix, next, err)
		}
		if !patched {
			return Incompatible, nil
		}

		metrics.MigrationSteps.Inc()
		m.log.Warn(ctx, "cache schema migrated", "to", SchemaVersionAt(next))
		suffix++
	}
	return Migrated, nil
}

func (m *Migrator) storedVersion(ctx context.Context) (string, error) {
	var v string
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM vars WHERE name = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoVersion
	}
	if err != nil {
		return "", ErrNoVersion
	}
	return v, nil
}

// 2->3: clients at version 2 missed call-history management messages; clear
// cached history so it is refetched complete.
func stepClearCachedHistory(ctx context.Context, m *Migrator, tx dbx.DBTX) (bool, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_vars SET value = 0 WHERE name = 'have_all_history'`); err != nil {
		return false, err
	}
	m.log.Warn(ctx, "cleared cached history to refetch management messages")
	return true, nil
}

// 3->4: version 3 never stored chats the remote had marked deleted. If any
// chat exists the remote cache must be rebuilt too, so the whole local cache
// is dropped; with no chats only the version marker moves.
func stepReloadDeletedChats(ctx context.Context, m *Migrator, tx dbx.DBTX) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		m.log.Warn(ctx, "forcing remote cache invalidation and local rebuild", "chats", n)
		if err := m.backend.InvalidateCache(ctx); err != nil {
			m.log.Error(ctx, "remote cache invalidation failed", "error", err)
		}
		return false, nil
	}
	return true, nil
}

// 4->5: create node_history, backfill it from cached attachments and remap
// the legacy special-message type range.
func stepNodeHistory(ctx context.Context, m *Migrator, tx dbx.DBTX) (bool, error) {
	remaps := [][2]int{
		{msgTypeAttachment, legacyTypeAttachment},
		{msgTypeRevokeAttachment, legacyTypeRevokeAttachment},
		{msgTypeContact, legacyTypeContact},
		{msgTypeContainsMeta, legacyTypeContainsMeta},
	}
	for _, r := range remaps {
		if _, err := tx.ExecContext(ctx,
			`UPDATE history SET type = ? WHERE type = ?`, r[0], r[1]); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`CREATE TABLE node_history (
			idx INTEGER NOT NULL, chatid INTEGER NOT NULL, msgid INTEGER NOT NULL,
			userid INTEGER, keyid INTEGER, type INTEGER, updated INTEGER, ts INTEGER,
			is_encrypted INTEGER, data BLOB, backrefid INTEGER,
			UNIQUE(chatid, msgid), UNIQUE(chatid, idx))`); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO node_history SELECT * FROM history WHERE type = ?`, msgTypeAttachment)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err == nil {
		m.log.Warn(ctx, "backfilled node history", "messages", n)
	}
	return true, nil
}

// 5->6: public chats need the mode and unified_key columns. A cache holding
// group chats predates the mode concept entirely and must be rebuilt.
func stepPublicChats(ctx context.Context, m *Migrator, tx dbx.DBTX) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE peer = -1`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		m.log.Warn(ctx, "group chats present, forcing remote cache invalidation", "groups", n)
		if err := m.backend.InvalidateCache(ctx); err != nil {
			m.log.Error(ctx, "remote cache invalidation failed", "error", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE chats ADD mode INTEGER`); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE chats ADD unified_key BLOB`); err != nil {
		return false, err
	}
	return true, nil
}
