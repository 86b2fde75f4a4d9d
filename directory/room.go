package directory

import (
	"context"

	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Room is a chat room known to the directory, either a 1:1 PeerRoom or a
// GroupRoom. Rooms are owned exclusively by the RoomDirectory.
type Room interface {
	ID() remote.Handle
	Shard() int
	IsGroup() bool
	OwnPriv() remote.Priv
	Archived() bool
	TitleString() string

	// syncWithRemote reconciles the room against its remote listing entry.
	// removed reports that the room destroyed itself during the pass.
	syncWithRemote(ctx context.Context, c remote.Chat) (changed, removed bool, err error)
	connect(ctx context.Context)
	shutdown()
}

type roomBase struct {
	dir      *RoomDirectory
	id       remote.Handle
	shard    int
	ownPriv  remote.Priv
	archived bool
	created  int64
}

func (r *roomBase) ID() remote.Handle    { return r.id }
func (r *roomBase) Shard() int           { return r.shard }
func (r *roomBase) OwnPriv() remote.Priv { return r.ownPriv }
func (r *roomBase) Archived() bool       { return r.archived }

func (r *roomBase) syncArchived(ctx context.Context, archived bool) (bool, error) {
	if r.archived == archived {
		return false, nil
	}
	if err := r.dir.deps.Chats.UpdateArchived(ctx, r.id, archived); err != nil {
		return false, err
	}
	r.archived = archived
	r.dir.deps.RoomListener.OnArchivedChanged(r.id, archived)
	return true, nil
}

// PeerRoom is a 1:1 chat with a single peer.
type PeerRoom struct {
	roomBase
	peer     remote.Handle
	peerPriv remote.Priv
	contact  *Contact
}

func newPeerRoomFromCache(dir *RoomDirectory, row chats.Row) *PeerRoom {
	r := &PeerRoom{
		roomBase: roomBase{
			dir:      dir,
			id:       row.ChatID,
			shard:    row.Shard,
			ownPriv:  row.OwnPriv,
			archived: row.Archived,
			created:  row.TSCreated,
		},
		peer:     remote.Handle(row.Peer),
		peerPriv: row.PeerPriv,
	}
	r.attachToContact()
	return r
}

func newPeerRoomFromRemote(ctx context.Context, dir *RoomDirectory, c remote.Chat) (*PeerRoom, error) {
	r := &PeerRoom{
		roomBase: roomBase{
			dir:      dir,
			id:       c.ID,
			shard:    c.Shard,
			ownPriv:  c.OwnPriv,
			archived: c.Archived,
			created:  c.CreationTS,
		},
		peer:     peerOf(c),
		peerPriv: peerPrivOf(c),
	}
	err := dir.deps.Chats.Insert(ctx, chats.Row{
		ChatID:    c.ID,
		Shard:     c.Shard,
		Peer:      int64(r.peer),
		PeerPriv:  r.peerPriv,
		OwnPriv:   c.OwnPriv,
		TSCreated: c.CreationTS,
		Archived:  c.Archived,
	})
	if err != nil {
		return nil, err
	}
	r.attachToContact()
	return r, nil
}

func (r *PeerRoom) attachToContact() {
	if c := r.dir.contacts.Get(r.peer); c != nil {
		c.attachRoom(r)
	}
}

func (r *PeerRoom) IsGroup() bool { return false }

// Peer returns the other participant.
func (r *PeerRoom) Peer() remote.Handle { return r.peer }

// TitleString is the peer's display name, falling back to the contact email.
func (r *PeerRoom) TitleString() string {
	if name, ok := r.dir.deps.Attrs.Name(r.peer); ok && name != "" {
		return name
	}
	if r.contact != nil {
		return r.contact.email
	}
	return ""
}

func (r *PeerRoom) syncWithRemote(ctx context.Context, c remote.Chat) (bool, bool, error) {
	d := r.dir.deps
	changed := false

	if c.OwnPriv != r.ownPriv {
		old := r.ownPriv
		if err := d.Chats.UpdateOwnPriv(ctx, r.id, c.OwnPriv); err != nil {
			return changed, false, err
		}
		r.ownPriv = c.OwnPriv
		changed = true
		if c.OwnPriv == remote.PrivNotPresent {
			// a 1:1 room is only marked removed; the row stays so local
			// history survives
			d.Sessions.Close(r.id)
			d.RoomListener.OnExcludedFromChat(r.id)
			return changed, false, nil
		}
		if old == remote.PrivNotPresent {
			if d.Connected() {
				r.connect(ctx)
			}
			d.RoomListener.OnRejoinedChat(r.id)
		}
	}

	if p := peerPrivOf(c); p != remote.PrivUnknown && p != r.peerPriv {
		if err := d.Chats.UpdatePeerPriv(ctx, r.id, p); err != nil {
			return changed, false, err
		}
		r.peerPriv = p
		changed = true
	}

	archChanged, err := r.syncArchived(ctx, c.Archived)
	if err != nil {
		return changed, false, err
	}
	return changed || archChanged, false, nil
}

func (r *PeerRoom) connect(ctx context.Context) {
	err := r.dir.deps.Sessions.Open(ctx, remote.OpenParams{
		ChatID:  r.id,
		Shard:   r.shard,
		Members: []remote.ChatPeer{{Handle: r.peer, Priv: r.peerPriv}},
	})
	if err != nil {
		r.dir.deps.Log.Warn(ctx, "failed to open 1:1 room session", "chat", r.id, "error", err)
	}
}

func (r *PeerRoom) shutdown() {
	if r.contact != nil && r.contact.room == r {
		r.contact.room = nil
	}
	r.contact = nil
}

func peerOf(c remote.Chat) remote.Handle {
	if len(c.Peers) == 1 {
		return c.Peers[0].Handle
	}
	return remote.InvalidHandle
}

func peerPrivOf(c remote.Chat) remote.Priv {
	if len(c.Peers) == 1 {
		return c.Peers[0].Priv
	}
	return remote.PrivUnknown
}
