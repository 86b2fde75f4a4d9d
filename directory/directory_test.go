package directory

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/internal/attrcache"
	"github.com/aperturetechnology/MEGAchat/internal/eventloop"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/internal/store/contacts"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

const ownHandle remote.Handle = 1000

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stmts := []string{
		`CREATE TABLE vars (name TEXT NOT NULL PRIMARY KEY, value BLOB)`,
		`CREATE TABLE contacts (userid INTEGER PRIMARY KEY, email TEXT, visibility INTEGER, since INTEGER)`,
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

// countingDB counts write statements so tests can assert the diff emits no
// write when nothing changed.
type countingDB struct {
	db    *sql.DB
	execs atomic.Int64
}

func (c *countingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.execs.Add(1)
	return c.db.ExecContext(ctx, query, args...)
}

func (c *countingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *countingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

type fakeSessions struct {
	opened []remote.Handle
	closed []remote.Handle
	syncs  []remote.Handle
	recon  int
}

func (f *fakeSessions) Open(_ context.Context, p remote.OpenParams) error {
	f.opened = append(f.opened, p.ChatID)
	return nil
}
func (f *fakeSessions) Close(chatID remote.Handle)    { f.closed = append(f.closed, chatID) }
func (f *fakeSessions) SendSync(chatID remote.Handle) { f.syncs = append(f.syncs, chatID) }
func (f *fakeSessions) ReconnectAll()                 { f.recon++ }

type fakePresence struct {
	subscribed map[remote.Handle]bool
}

func (f *fakePresence) Subscribe(userID remote.Handle)   { f.subscribed[userID] = true }
func (f *fakePresence) Unsubscribe(userID remote.Handle) { delete(f.subscribed, userID) }

type fakeTitles struct {
	titles map[remote.Handle]string
	calls  int
}

func (f *fakeTitles) DecryptTitle(_ context.Context, chatID remote.Handle, _ []byte) (string, error) {
	f.calls++
	title, ok := f.titles[chatID]
	if !ok {
		return "", errors.New("no key for title")
	}
	return title, nil
}

func (f *fakeTitles) EncryptTitle(_ context.Context, _ remote.Handle, title string) ([]byte, error) {
	return []byte(title), nil
}

type fakeAttrs struct {
	names map[remote.Handle]string
}

func (f *fakeAttrs) FetchFullName(_ context.Context, userID remote.Handle) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", errors.New("attribute not found")
	}
	return name, nil
}

// recorder captures listener notifications as readable strings.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OnRoomAdded(id remote.Handle)       { r.add("room-added %d", id) }
func (r *recorder) OnRoomRemoved(id remote.Handle)     { r.add("room-removed %d", id) }
func (r *recorder) OnTitleChanged(id remote.Handle, title string) {
	r.add("title %d %q", id, title)
}
func (r *recorder) OnChatModeChanged(id remote.Handle, public bool) {
	r.add("mode %d public=%v", id, public)
}
func (r *recorder) OnExcludedFromChat(id remote.Handle) { r.add("excluded %d", id) }
func (r *recorder) OnRejoinedChat(id remote.Handle)     { r.add("rejoined %d", id) }
func (r *recorder) OnArchivedChanged(id remote.Handle, archived bool) {
	r.add("archived %d %v", id, archived)
}
func (r *recorder) OnContactAdded(id remote.Handle)   { r.add("contact-added %d", id) }
func (r *recorder) OnContactRemoved(id remote.Handle) { r.add("contact-removed %d", id) }
func (r *recorder) OnVisibilityChanged(id remote.Handle, v remote.Visibility) {
	r.add("visibility %d %d", id, v)
}

func (r *recorder) has(event string) bool {
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	loop      *eventloop.Loop
	cdb       *countingDB
	chats     *chats.Repo
	contacts  *contacts.Repo
	sessions  *fakeSessions
	presence  *fakePresence
	titles    *fakeTitles
	attrs     *fakeAttrs
	rec       *recorder
	connected bool

	contactDir *ContactDirectory
	roomDir    *RoomDirectory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:     eventloop.New(),
		cdb:      &countingDB{db: setupDB(t)},
		sessions: &fakeSessions{},
		presence: &fakePresence{subscribed: make(map[remote.Handle]bool)},
		titles:   &fakeTitles{titles: make(map[remote.Handle]string)},
		attrs:    &fakeAttrs{names: make(map[remote.Handle]string)},
		rec:      &recorder{},
	}
	h.chats = chats.NewRepo(h.cdb)
	h.contacts = contacts.NewRepo(h.cdb)

	log := logging.NewNopLogger()
	attrCache := attrcache.New(h.loop, async.NewTracker(), h.attrs, log, async.Inline)
	deps := &Deps{
		Loop:            h.loop,
		Log:             log,
		Dispatch:        async.Inline,
		Chats:           h.chats,
		Contacts:        h.contacts,
		Sessions:        h.sessions,
		Titles:          h.titles,
		Presence:        h.presence,
		Attrs:           attrCache,
		OwnHandle:       func() remote.Handle { return ownHandle },
		Connected:       func() bool { return h.connected },
		RoomListener:    h.rec,
		ContactListener: h.rec,
	}
	h.contactDir = NewContactDirectory(deps)
	h.roomDir = NewRoomDirectory(deps, h.contactDir)
	return h
}

// drain runs the loop until nothing is queued, settling deferred name
// lookups and title continuations.
func (h *harness) drain() {
	for h.loop.RunPending() > 0 {
	}
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func peerChat(id remote.Handle, peer remote.Handle, ownPriv remote.Priv) remote.Chat {
	return remote.Chat{
		ID:      id,
		Shard:   1,
		OwnPriv: ownPriv,
		Peers:   []remote.ChatPeer{{Handle: peer, Priv: remote.PrivStandard}},
	}
}

func groupChat(id remote.Handle, peers ...remote.ChatPeer) remote.Chat {
	return remote.Chat{
		ID:      id,
		Shard:   1,
		IsGroup: true,
		OwnPriv: remote.PrivStandard,
		Peers:   peers,
	}
}
