package directory

import (
	"context"
	"fmt"

	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// RoomDirectory is the reconciled room set. It exclusively owns every Room.
// All methods run on the engine loop.
type RoomDirectory struct {
	deps     *Deps
	contacts *ContactDirectory
	rooms    map[remote.Handle]Room
}

// NewRoomDirectory builds a room directory sharing the contact directory's
// Deps. Contacts must be loaded before rooms so 1:1 rooms find their contact.
func NewRoomDirectory(deps *Deps, contacts *ContactDirectory) *RoomDirectory {
	deps.normalize()
	return &RoomDirectory{
		deps:     deps,
		contacts: contacts,
		rooms:    make(map[remote.Handle]Room),
	}
}

// Get returns the room for a chat id, or nil.
func (d *RoomDirectory) Get(chatID remote.Handle) Room {
	r, ok := d.rooms[chatID]
	if !ok {
		return nil
	}
	return r
}

// Len reports the number of rooms.
func (d *RoomDirectory) Len() int { return len(d.rooms) }

// Each calls fn for every room.
func (d *RoomDirectory) Each(fn func(Room)) {
	for _, r := range d.rooms {
		fn(r)
	}
}

// LoadFromCache populates the directory from the persisted chat rows.
// Preview rooms left over from a previous run are purged, not loaded.
func (d *RoomDirectory) LoadFromCache(ctx context.Context) error {
	previews, err := d.deps.Chats.PreviewIDs(ctx)
	if err != nil {
		return err
	}
	for _, chatID := range previews {
		if err := d.deps.Chats.PurgePreview(ctx, chatID); err != nil {
			return err
		}
		d.deps.Log.Debug(ctx, "purged stale preview room", "chat", chatID)
	}

	rows, err := d.deps.Chats.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Mode == chats.ModePreview {
			continue
		}
		var r Room
		if row.IsGroup() {
			g, err := newGroupRoomFromCache(ctx, d, row)
			if err != nil {
				return err
			}
			r = g
		} else {
			r = newPeerRoomFromCache(d, row)
		}
		d.rooms[r.ID()] = r
	}
	d.deps.Log.Debug(ctx, "room list loaded from cache", "count", len(d.rooms))
	return nil
}

// SyncStats summarizes one SyncWithRemote pass.
type SyncStats struct {
	Added   int
	Updated int
	Removed int
}

// SyncWithRemote reconciles the room set against the remote listing: unknown
// rooms are added first, then every known room is reconciled field by field.
// Rooms simply absent from the listing are left alone; removal is driven only
// by an explicit own-privilege drop, never by a short listing.
func (d *RoomDirectory) SyncWithRemote(ctx context.Context, list []remote.Chat) (SyncStats, error) {
	var stats SyncStats

	added := make(map[remote.Handle]bool)
	for _, c := range list {
		if _, ok := d.rooms[c.ID]; ok {
			continue
		}
		if _, err := d.AddRoom(ctx, c); err != nil {
			return stats, err
		}
		added[c.ID] = true
		stats.Added++
	}

	for _, c := range list {
		if added[c.ID] {
			continue
		}
		r, ok := d.rooms[c.ID]
		if !ok {
			continue
		}
		changed, removed, err := r.syncWithRemote(ctx, c)
		if err != nil {
			return stats, err
		}
		switch {
		case removed:
			stats.Removed++
		case changed:
			stats.Updated++
		}
	}
	return stats, nil
}

// AddRoom instantiates and persists a room from its remote listing entry and,
// if connected, opens its transport session.
func (d *RoomDirectory) AddRoom(ctx context.Context, c remote.Chat) (Room, error) {
	var r Room
	if c.IsGroup {
		g, err := newGroupRoomFromRemote(ctx, d, c)
		if err != nil {
			return nil, err
		}
		r = g
	} else {
		p, err := newPeerRoomFromRemote(ctx, d, c)
		if err != nil {
			return nil, err
		}
		r = p
	}
	d.rooms[c.ID] = r
	metrics.RoomsAdded.Inc()
	d.deps.RoomListener.OnRoomAdded(c.ID)
	if d.deps.Connected() {
		r.connect(ctx)
	}
	return r, nil
}

// RemoveRoomLocally tears down a preview room: closes its session, purges its
// rows and drops it from the directory. Only preview rooms can be removed
// this way.
func (d *RoomDirectory) RemoveRoomLocally(ctx context.Context, chatID remote.Handle) error {
	r, ok := d.rooms[chatID]
	if !ok {
		return nil
	}
	g, ok := r.(*GroupRoom)
	if !ok || !g.preview {
		return fmt.Errorf("room %d is not a preview room", chatID)
	}
	d.deps.Sessions.Close(chatID)
	g.shutdown()
	delete(d.rooms, chatID)
	if err := d.deps.Chats.PurgePreview(ctx, chatID); err != nil {
		return err
	}
	d.deps.RoomListener.OnRoomRemoved(chatID)
	return nil
}

// ConnectAll opens transport sessions for every room we are still part of.
// Called when the client goes online.
func (d *RoomDirectory) ConnectAll(ctx context.Context) {
	for _, r := range d.rooms {
		if r.OwnPriv() == remote.PrivNotPresent {
			continue
		}
		r.connect(ctx)
	}
}

// Shutdown kills every room's outstanding async work. The directory is
// unusable afterwards.
func (d *RoomDirectory) Shutdown() {
	for _, r := range d.rooms {
		r.shutdown()
	}
}

// destroyRoom physically removes a group room after an own-privilege
// exclusion: session closed, async work killed, rows deleted, listeners told.
func (d *RoomDirectory) destroyRoom(ctx context.Context, g *GroupRoom, notifyExcluded bool) error {
	d.deps.Sessions.Close(g.id)
	g.shutdown()
	delete(d.rooms, g.id)
	if err := d.deps.Chats.Delete(ctx, g.id); err != nil {
		return err
	}
	metrics.RoomsRemoved.Inc()
	if notifyExcluded {
		d.deps.RoomListener.OnExcludedFromChat(g.id)
	}
	d.deps.RoomListener.OnRoomRemoved(g.id)
	return nil
}
