package chats

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

	stmts := []string{
		`CREATE TABLE chats (chatid INTEGER PRIMARY KEY, shard INTEGER, peer INTEGER NOT NULL DEFAULT -1,
			peer_priv INTEGER, own_priv INTEGER, ts_created INTEGER, archived INTEGER DEFAULT 0,
			mode INTEGER, title BLOB, unified_key BLOB)`,
		`CREATE TABLE chat_peers (chatid INTEGER, userid INTEGER, priv INTEGER, UNIQUE(chatid, userid))`,
		`CREATE TABLE chat_vars (chatid INTEGER, name TEXT, value BLOB, UNIQUE(chatid, name))`,
		`CREATE TABLE history (idx INTEGER, chatid INTEGER, msgid INTEGER, data BLOB)`,
		`CREATE TABLE node_history (idx INTEGER, chatid INTEGER, msgid INTEGER, data BLOB)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return db
}

func TestInsertAndGetAll(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, Row{
		ChatID: 10, Shard: 1, Peer: 42, PeerPriv: remote.PrivStandard,
		OwnPriv: remote.PrivStandard, TSCreated: 1000,
	}))
	require.NoError(t, r.Insert(ctx, Row{
		ChatID: 11, Shard: 2, Peer: GroupPeerSentinel, OwnPriv: remote.PrivModerator,
		TSCreated: 2000, Mode: ModePublic, UnifiedKey: []byte{1, 2, 3},
	}))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[remote.Handle]Row{}
	for _, c := range all {
		byID[c.ChatID] = c
	}
	require.False(t, byID[10].IsGroup())
	require.True(t, byID[11].IsGroup())
	require.Equal(t, ModePublic, byID[11].Mode)
	require.Equal(t, []byte{1, 2, 3}, byID[11].UnifiedKey)
}

func TestInsert_DropsStalePeers(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, Row{ChatID: 5, Peer: GroupPeerSentinel}))
	require.NoError(t, r.UpsertPeer(ctx, PeerRow{ChatID: 5, UserID: 1, Priv: remote.PrivStandard}))

	// re-inserting the chat clears obsolete membership
	require.NoError(t, r.Insert(ctx, Row{ChatID: 5, Peer: GroupPeerSentinel}))
	peers, err := r.GetPeersOf(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestPeerRows(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, Row{ChatID: 5, Peer: GroupPeerSentinel}))
	require.NoError(t, r.UpsertPeer(ctx, PeerRow{ChatID: 5, UserID: 1, Priv: remote.PrivStandard}))
	require.NoError(t, r.UpsertPeer(ctx, PeerRow{ChatID: 5, UserID: 2, Priv: remote.PrivReadOnly}))
	require.NoError(t, r.UpdatePeerMemberPriv(ctx, 5, 2, remote.PrivModerator))
	require.NoError(t, r.DeletePeer(ctx, 5, 1))

	peers, err := r.GetPeersOf(ctx, 5)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, remote.Handle(2), peers[0].UserID)
	require.Equal(t, remote.PrivModerator, peers[0].Priv)
}

func TestFieldUpdates(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, Row{ChatID: 7, Peer: GroupPeerSentinel, Mode: ModePublic}))
	require.NoError(t, r.UpdateOwnPriv(ctx, 7, remote.PrivNotPresent))
	require.NoError(t, r.UpdateArchived(ctx, 7, true))
	require.NoError(t, r.UpdateMode(ctx, 7, ModePrivate))
	require.NoError(t, r.UpdateTitle(ctx, 7, []byte{1, 'x'}))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	c := all[0]
	require.Equal(t, remote.PrivNotPresent, c.OwnPriv)
	require.True(t, c.Archived)
	require.Equal(t, ModePrivate, c.Mode)
	require.Equal(t, []byte{1, 'x'}, c.Title)

	require.NoError(t, r.ClearTitle(ctx, 7))
	all, err = r.GetAll(ctx)
	require.NoError(t, err)
	require.Nil(t, all[0].Title)
}

func TestPreviewPurge(t *testing.T) {
	r := NewRepo(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, Row{ChatID: 9, Peer: GroupPeerSentinel, Mode: ModePreview}))
	require.NoError(t, r.UpsertPeer(ctx, PeerRow{ChatID: 9, UserID: 3, Priv: remote.PrivReadOnly}))
	require.NoError(t, r.Insert(ctx, Row{ChatID: 10, Peer: GroupPeerSentinel, Mode: ModePrivate}))

	ids, err := r.PreviewIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []remote.Handle{9}, ids)

	require.NoError(t, r.PurgePreview(ctx, 9))
	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, remote.Handle(10), all[0].ChatID)

	peers, err := r.GetPeersOf(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, peers)
}
