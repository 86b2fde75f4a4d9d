// Package chats persists the chat-room rows of the cache: the chats table and
// the chat_peers membership table. A peer column of -1 marks a group chat.
package chats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aperturetechnology/MEGAchat/internal/dbx"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// GroupPeerSentinel is stored in the peer column of group chats.
const GroupPeerSentinel int64 = -1

// Chat modes as persisted in the mode column.
const (
	ModePrivate = 0
	ModePublic  = 1
	ModePreview = 2
)

// Row is one persisted chat.
type Row struct {
	ChatID     remote.Handle
	Shard      int
	Peer       int64 // GroupPeerSentinel for group chats
	PeerPriv   remote.Priv
	OwnPriv    remote.Priv
	TSCreated  int64
	Archived   bool
	Mode       int
	Title      []byte // flag byte + title payload, nil if none
	UnifiedKey []byte
}

// IsGroup reports whether the row is a group chat.
func (r Row) IsGroup() bool { return r.Peer == GroupPeerSentinel }

// PeerRow is one persisted group member.
type PeerRow struct {
	ChatID remote.Handle
	UserID remote.Handle
	Priv   remote.Priv
}

// Repo reads and writes the chats and chat_peers tables through a DBTX.
type Repo struct {
	db dbx.DBTX
}

func NewRepo(db dbx.DBTX) *Repo {
	return &Repo{db: db}
}

// Insert writes the full chat row and drops any stale membership rows left
// from a previous incarnation of the chat id.
func (r *Repo) Insert(ctx context.Context, c Row) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chats(chatid, shard, peer, peer_priv, own_priv, ts_created, archived, mode, title, unified_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(c.ChatID), c.Shard, c.Peer, int(c.PeerPriv), int(c.OwnPriv),
		c.TSCreated, boolToInt(c.Archived), c.Mode, c.Title, c.UnifiedKey)
	if err != nil {
		return fmt.Errorf("insert chat %d: %w", c.ChatID, err)
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_peers WHERE chatid = ?`, int64(c.ChatID)); err != nil {
		return fmt.Errorf("clear stale peers of chat %d: %w", c.ChatID, err)
	}
	return nil
}

func (r *Repo) UpdateOwnPriv(ctx context.Context, chatID remote.Handle, p remote.Priv) error {
	return r.update(ctx, chatID, `UPDATE chats SET own_priv = ? WHERE chatid = ?`, int(p))
}

func (r *Repo) UpdatePeerPriv(ctx context.Context, chatID remote.Handle, p remote.Priv) error {
	return r.update(ctx, chatID, `UPDATE chats SET peer_priv = ? WHERE chatid = ?`, int(p))
}

func (r *Repo) UpdateArchived(ctx context.Context, chatID remote.Handle, archived bool) error {
	return r.update(ctx, chatID, `UPDATE chats SET archived = ? WHERE chatid = ?`, boolToInt(archived))
}

func (r *Repo) UpdateMode(ctx context.Context, chatID remote.Handle, mode int) error {
	return r.update(ctx, chatID, `UPDATE chats SET mode = ? WHERE chatid = ?`, mode)
}

func (r *Repo) UpdateTitle(ctx context.Context, chatID remote.Handle, blob []byte) error {
	return r.update(ctx, chatID, `UPDATE chats SET title = ? WHERE chatid = ?`, blob)
}

func (r *Repo) ClearTitle(ctx context.Context, chatID remote.Handle) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET title = NULL WHERE chatid = ?`, int64(chatID))
	if err != nil {
		return fmt.Errorf("clear title of chat %d: %w", chatID, err)
	}
	return nil
}

func (r *Repo) update(ctx context.Context, chatID remote.Handle, query string, arg any) error {
	if _, err := r.db.ExecContext(ctx, query, arg, int64(chatID)); err != nil {
		return fmt.Errorf("update chat %d: %w", chatID, err)
	}
	return nil
}

// Delete removes the chat row and its membership.
func (r *Repo) Delete(ctx context.Context, chatID remote.Handle) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_peers WHERE chatid = ?`, int64(chatID)); err != nil {
		return fmt.Errorf("delete peers of chat %d: %w", chatID, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE chatid = ?`, int64(chatID)); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}

// GetAll lists every cached chat.
func (r *Repo) GetAll(ctx context.Context) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chatid, shard, peer, peer_priv, own_priv, ts_created, archived, mode, title, unified_key FROM chats`)
	if err != nil {
		return nil, fmt.Errorf("select chats: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var (
			c        Row
			id       int64
			peerPriv, ownPriv int
			archived int
			mode     sql.NullInt64
		)
		if err := rows.Scan(&id, &c.Shard, &c.Peer, &peerPriv, &ownPriv,
			&c.TSCreated, &archived, &mode, &c.Title, &c.UnifiedKey); err != nil {
			return nil, err
		}
		c.ChatID = remote.Handle(id)
		c.PeerPriv = remote.Priv(peerPriv)
		c.OwnPriv = remote.Priv(ownPriv)
		c.Archived = archived != 0
		if mode.Valid {
			c.Mode = int(mode.Int64)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertPeer inserts or replaces one membership row.
func (r *Repo) UpsertPeer(ctx context.Context, p PeerRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_peers(chatid, userid, priv) VALUES (?, ?, ?)`,
		int64(p.ChatID), int64(p.UserID), int(p.Priv))
	if err != nil {
		return fmt.Errorf("upsert peer %d of chat %d: %w", p.UserID, p.ChatID, err)
	}
	return nil
}

// UpdatePeerMemberPriv rewrites one member's privilege.
func (r *Repo) UpdatePeerMemberPriv(ctx context.Context, chatID, userID remote.Handle, p remote.Priv) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_peers SET priv = ? WHERE chatid = ? AND userid = ?`,
		int(p), int64(chatID), int64(userID))
	if err != nil {
		return fmt.Errorf("update peer %d of chat %d: %w", userID, chatID, err)
	}
	return nil
}

// DeletePeer removes one membership row.
func (r *Repo) DeletePeer(ctx context.Context, chatID, userID remote.Handle) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_peers WHERE chatid = ? AND userid = ?`, int64(chatID), int64(userID))
	if err != nil {
		return fmt.Errorf("delete peer %d of chat %d: %w", userID, chatID, err)
	}
	return nil
}

// GetPeersOf lists the membership of one chat.
func (r *Repo) GetPeersOf(ctx context.Context, chatID remote.Handle) ([]PeerRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT userid, priv FROM chat_peers WHERE chatid = ?`, int64(chatID))
	if err != nil {
		return nil, fmt.Errorf("select peers of chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var result []PeerRow
	for rows.Next() {
		var (
			id   int64
			priv int
		)
		if err := rows.Scan(&id, &priv); err != nil {
			return nil, err
		}
		result = append(result, PeerRow{ChatID: chatID, UserID: remote.Handle(id), Priv: remote.Priv(priv)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PreviewIDs lists chats still flagged as link previews. Previews are not
// part of snapshot membership and are purged at startup.
func (r *Repo) PreviewIDs(ctx context.Context) ([]remote.Handle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chatid FROM chats WHERE mode = ?`, ModePreview)
	if err != nil {
		return nil, fmt.Errorf("select preview chats: %w", err)
	}
	defer rows.Close()

	var ids []remote.Handle
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, remote.Handle(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// PurgePreview erases every trace of a preview chat: the chat row, its
// membership and any cached history.
func (r *Repo) PurgePreview(ctx context.Context, chatID remote.Handle) error {
	tables := []string{"chat_peers", "chat_vars", "history", "node_history", "chats"}
	for _, tbl := range tables {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM `+tbl+` WHERE chatid = ?`, int64(chatID)); err != nil {
			return fmt.Errorf("purge preview chat %d from %s: %w", chatID, tbl, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
