package directory

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/internal/attrcache"
	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Title blob states, persisted as the first byte of the chats.title column.
// An encrypted title survives restarts and is decrypted again on load; an
// undecryptable one keeps its encrypted payload so the same remote value is
// never retried.
const (
	titleDecrypted     byte = 0
	titleEncrypted     byte = 1
	titleUndecryptable byte = 2
)

func encodeTitle(state byte, payload string) []byte {
	blob := make([]byte, 0, len(payload)+1)
	blob = append(blob, state)
	return append(blob, payload...)
}

func decodeTitle(blob []byte) (state byte, payload string, ok bool) {
	if len(blob) == 0 {
		return 0, "", false
	}
	return blob[0], string(blob[1:]), true
}

// Member is one group participant, owned by its room. Each member holds a
// display-name subscription; the first resolution settles the room's pending
// name group, later changes recompute a derived title.
type Member struct {
	handle   remote.Handle
	priv     remote.Priv
	name     string
	email    string
	resolved bool
	sub      *attrcache.Subscription
}

func (m *Member) Handle() remote.Handle { return m.handle }
func (m *Member) Priv() remote.Priv     { return m.priv }
func (m *Member) Name() string          { return m.name }
func (m *Member) Email() string         { return m.email }

// GroupRoom is a multi-user chat. It owns its members and the asynchronous
// work around its title; the tracker ties that work to the room's lifetime.
type GroupRoom struct {
	roomBase
	members map[remote.Handle]*Member
	public  bool
	preview bool
	key     []byte

	// hasTitle means the current title is a decrypted custom title rather
	// than one derived from member names.
	hasTitle       bool
	title          string
	encryptedTitle string
	titleState     byte

	tracker *async.Tracker
	names   *async.Group
}

func newGroupRoom(dir *RoomDirectory, id remote.Handle) *GroupRoom {
	g := &GroupRoom{
		roomBase: roomBase{dir: dir, id: id},
		members:  make(map[remote.Handle]*Member),
		tracker:  async.NewTracker(),
	}
	g.names = async.NewGroup(dir.deps.Loop, g.tracker)
	return g
}

func newGroupRoomFromCache(ctx context.Context, dir *RoomDirectory, row chats.Row) (*GroupRoom, error) {
	g := newGroupRoom(dir, row.ChatID)
	g.shard = row.Shard
	g.ownPriv = row.OwnPriv
	g.archived = row.Archived
	g.created = row.TSCreated
	g.public = row.Mode == chats.ModePublic
	g.preview = row.Mode == chats.ModePreview
	g.key = row.UnifiedKey

	peers, err := dir.deps.Chats.GetPeersOf(ctx, row.ChatID)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if err := g.addMember(ctx, p.UserID, p.Priv, false); err != nil {
			return nil, err
		}
	}

	state, payload, ok := decodeTitle(row.Title)
	switch {
	case !ok:
		g.deriveTitleWhenNamesSettle()
	case state == titleDecrypted:
		g.titleState = titleDecrypted
		g.title = payload
		g.hasTitle = true
	case state == titleEncrypted:
		g.titleState = titleEncrypted
		g.encryptedTitle = payload
		g.decryptTitle()
	default:
		g.titleState = titleUndecryptable
		g.encryptedTitle = payload
		g.deriveTitleWhenNamesSettle()
	}
	return g, nil
}

func newGroupRoomFromRemote(ctx context.Context, dir *RoomDirectory, c remote.Chat) (*GroupRoom, error) {
	g := newGroupRoom(dir, c.ID)
	g.shard = c.Shard
	g.ownPriv = c.OwnPriv
	g.archived = c.Archived
	g.created = c.CreationTS
	g.public = c.Public
	g.key = c.UnifiedKey

	mode := chats.ModePrivate
	if c.Public {
		mode = chats.ModePublic
	}
	row := chats.Row{
		ChatID:     c.ID,
		Shard:      c.Shard,
		Peer:       chats.GroupPeerSentinel,
		PeerPriv:   remote.PrivUnknown,
		OwnPriv:    c.OwnPriv,
		TSCreated:  c.CreationTS,
		Archived:   c.Archived,
		Mode:       mode,
		UnifiedKey: c.UnifiedKey,
	}
	if c.Title != "" {
		row.Title = encodeTitle(titleEncrypted, c.Title)
	}
	if err := dir.deps.Chats.Insert(ctx, row); err != nil {
		return nil, err
	}

	// membership first: a derived title depends on the final member set
	own := dir.deps.OwnHandle()
	for _, p := range c.Peers {
		if p.Handle == own {
			continue
		}
		if err := g.addMember(ctx, p.Handle, p.Priv, true); err != nil {
			return nil, err
		}
	}

	if c.Title != "" {
		g.titleState = titleEncrypted
		g.encryptedTitle = c.Title
		g.decryptTitle()
	} else {
		g.deriveTitleWhenNamesSettle()
	}
	return g, nil
}

func (g *GroupRoom) IsGroup() bool { return true }

// Public reports whether the room is in public (open-invite) mode.
func (g *GroupRoom) Public() bool { return g.public }

// Preview reports whether the room was opened in preview mode.
func (g *GroupRoom) Preview() bool { return g.preview }

// HasCustomTitle reports whether the current title is a decrypted custom
// title rather than one derived from member names.
func (g *GroupRoom) HasCustomTitle() bool { return g.hasTitle }

func (g *GroupRoom) TitleString() string { return g.title }

// Members returns the current member set keyed by handle. The map is owned by
// the room; callers must not mutate it.
func (g *GroupRoom) Members() map[remote.Handle]*Member { return g.members }

func (g *GroupRoom) syncWithRemote(ctx context.Context, c remote.Chat) (bool, bool, error) {
	d := g.dir.deps
	changed := false

	// mode first: encryption context depends on it
	if !c.Public && g.public {
		if err := d.Chats.UpdateMode(ctx, g.id, chats.ModePrivate); err != nil {
			return changed, false, err
		}
		g.public = false
		d.RoomListener.OnChatModeChanged(g.id, false)
		changed = true
	}

	if c.OwnPriv != g.ownPriv {
		old := g.ownPriv
		if err := g.setOwnPriv(ctx, c.OwnPriv); err != nil {
			return changed, false, err
		}
		changed = true
		if c.OwnPriv == remote.PrivNotPresent {
			if err := g.dir.destroyRoom(ctx, g, true); err != nil {
				return changed, false, err
			}
			return changed, true, nil
		}
		if old == remote.PrivNotPresent {
			if d.Connected() {
				g.connect(ctx)
			}
			d.RoomListener.OnRejoinedChat(g.id)
		}
	}

	membersChanged, err := g.syncMembers(ctx, c.Peers)
	if err != nil {
		return changed, false, err
	}
	changed = changed || membersChanged

	if c.Title != "" {
		if g.encryptedTitle != c.Title {
			g.titleState = titleEncrypted
			g.encryptedTitle = c.Title
			if err := d.Chats.UpdateTitle(ctx, g.id, encodeTitle(titleEncrypted, c.Title)); err != nil {
				return changed, false, err
			}
			g.decryptTitle()
			changed = true
		}
	} else if membersChanged {
		if err := d.Chats.ClearTitle(ctx, g.id); err != nil {
			return changed, false, err
		}
		g.hasTitle = false
		g.encryptedTitle = ""
		g.deriveTitleWhenNamesSettle()
	}

	archChanged, err := g.syncArchived(ctx, c.Archived)
	if err != nil {
		return changed, false, err
	}
	return changed || archChanged, false, nil
}

// setOwnPriv persists the new own privilege. Gaining a real privilege while
// in preview mode means we joined the public chat for real.
func (g *GroupRoom) setOwnPriv(ctx context.Context, p remote.Priv) error {
	if g.preview && p >= remote.PrivReadOnly {
		if err := g.dir.deps.Chats.UpdateMode(ctx, g.id, chats.ModePublic); err != nil {
			return err
		}
		g.preview = false
	}
	if err := g.dir.deps.Chats.UpdateOwnPriv(ctx, g.id, p); err != nil {
		return err
	}
	g.ownPriv = p
	return nil
}

// syncMembers diffs the local member set against the remote one. Unchanged
// members produce no write.
func (g *GroupRoom) syncMembers(ctx context.Context, peers []remote.ChatPeer) (bool, error) {
	d := g.dir.deps
	own := d.OwnHandle()
	want := make(map[remote.Handle]remote.Priv, len(peers))
	for _, p := range peers {
		if p.Handle == own {
			continue
		}
		want[p.Handle] = p.Priv
	}

	changed := false
	for userID := range g.members {
		if _, ok := want[userID]; !ok {
			if err := g.removeMember(ctx, userID); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	for userID, priv := range want {
		m, ok := g.members[userID]
		if !ok {
			if err := g.addMember(ctx, userID, priv, true); err != nil {
				return changed, err
			}
			changed = true
		} else if m.priv != priv {
			if err := d.Chats.UpdatePeerMemberPriv(ctx, g.id, userID, priv); err != nil {
				return changed, err
			}
			metrics.MemberWrites.Inc()
			m.priv = priv
			changed = true
		}
	}
	return changed, nil
}

func (g *GroupRoom) addMember(ctx context.Context, userID remote.Handle, priv remote.Priv, persist bool) error {
	m := &Member{handle: userID, priv: priv}
	if c := g.dir.contacts.Get(userID); c != nil {
		m.email = c.email
	}
	g.members[userID] = m
	g.names.Add()
	m.sub = g.dir.deps.Attrs.SubscribeFullName(userID, func(name string) {
		m.name = name
		if !m.resolved {
			m.resolved = true
			g.names.Settle()
			return
		}
		if !g.hasTitle {
			g.makeTitleFromMemberNames()
		}
	})
	if persist {
		err := g.dir.deps.Chats.UpsertPeer(ctx, chats.PeerRow{ChatID: g.id, UserID: userID, Priv: priv})
		if err != nil {
			return err
		}
		metrics.MemberWrites.Inc()
	}
	return nil
}

func (g *GroupRoom) removeMember(ctx context.Context, userID remote.Handle) error {
	m := g.members[userID]
	delete(g.members, userID)
	m.sub.Cancel()
	if !m.resolved {
		// the member leaves with its name lookup unresolved; settle so the
		// group does not wait forever
		m.resolved = true
		g.names.Settle()
	}
	if err := g.dir.deps.Chats.DeletePeer(ctx, g.id, userID); err != nil {
		return err
	}
	metrics.MemberWrites.Inc()
	return nil
}

// deriveTitleWhenNamesSettle recomputes the member-names title once all
// pending name lookups resolved. Deferred onto the loop even when nothing is
// pending, so a room mid-construction never observes it inline.
func (g *GroupRoom) deriveTitleWhenNamesSettle() {
	g.names.Done(func() {
		if !g.hasTitle {
			g.makeTitleFromMemberNames()
		}
	})
}

// makeTitleFromMemberNames derives a deterministic title from the member set:
// display names in ascending handle order, falling back per member to the
// email, then to an ellipsis. An empty room is titled by its creation time.
func (g *GroupRoom) makeTitleFromMemberNames() {
	var title string
	if len(g.members) == 0 {
		title = "Chat created on " + time.Unix(g.created, 0).UTC().Format("2006-01-02 15:04")
	} else {
		ids := make([]remote.Handle, 0, len(g.members))
		for id := range g.members {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			m := g.members[id]
			switch {
			case m.name != "":
				parts = append(parts, m.name)
			case m.email != "":
				parts = append(parts, m.email)
			default:
				parts = append(parts, "...")
			}
		}
		title = strings.Join(parts, ", ")
	}
	g.setTitle(title)
}

func (g *GroupRoom) setTitle(title string) {
	if g.title == title {
		return
	}
	g.title = title
	g.dir.deps.RoomListener.OnTitleChanged(g.id, title)
}

// decryptTitle decrypts the last-seen encrypted title off the loop and
// marshals the result back. A failure tags the blob undecryptable in the
// cache, so the same remote value is not retried, and falls back to the
// member-names title.
func (g *GroupRoom) decryptTitle() {
	d := g.dir.deps
	enc := g.encryptedTitle
	blob, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		g.titleDecryptFailed(enc, err)
		return
	}
	d.Dispatch(func() {
		title, err := d.Titles.DecryptTitle(context.Background(), g.id, blob)
		async.Run(d.Loop, g.tracker, func() {
			if g.encryptedTitle != enc {
				// superseded by a newer remote title while decrypting
				return
			}
			if err != nil {
				g.titleDecryptFailed(enc, err)
				return
			}
			g.titleState = titleDecrypted
			g.hasTitle = true
			ctx := context.Background()
			if err := d.Chats.UpdateTitle(ctx, g.id, encodeTitle(titleDecrypted, title)); err != nil {
				d.Log.Error(ctx, "failed to persist decrypted title", "chat", g.id, "error", err)
			}
			g.setTitle(title)
		})
	})
}

func (g *GroupRoom) titleDecryptFailed(enc string, cause error) {
	d := g.dir.deps
	ctx := context.Background()
	d.Log.Warn(ctx, "chat title decryption failed, deriving from member names",
		"chat", g.id, "error", cause)
	metrics.TitleDecryptFailures.Inc()
	g.titleState = titleUndecryptable
	g.hasTitle = false
	if err := d.Chats.UpdateTitle(ctx, g.id, encodeTitle(titleUndecryptable, enc)); err != nil {
		d.Log.Error(ctx, "failed to persist undecryptable title tag", "chat", g.id, "error", err)
	}
	g.deriveTitleWhenNamesSettle()
}

func (g *GroupRoom) connect(ctx context.Context) {
	members := make([]remote.ChatPeer, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, remote.ChatPeer{Handle: m.handle, Priv: m.priv})
	}
	err := g.dir.deps.Sessions.Open(ctx, remote.OpenParams{
		ChatID:     g.id,
		Shard:      g.shard,
		IsGroup:    true,
		IsPublic:   g.public,
		UnifiedKey: g.key,
		Members:    members,
	})
	if err != nil {
		g.dir.deps.Log.Warn(ctx, "failed to open group room session", "chat", g.id, "error", err)
	}
}

func (g *GroupRoom) shutdown() {
	g.tracker.Kill()
	for _, m := range g.members {
		m.sub.Cancel()
	}
}
