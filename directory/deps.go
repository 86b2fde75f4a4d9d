// Package directory holds the two reconciled sets of the engine: the chat
// rooms and the contact list. Both are loaded from the cache at startup and
// fully re-derived from a remote listing when the sequence marker says the
// cache is behind. Rooms and contacts cross-reference each other (a 1:1 room
// attaches to its contact), which is why both live in one package.
//
// Everything here runs on the engine loop; only title decryption and name
// fetches leave it, and their results are marshalled back with a per-room
// liveness check.
package directory

import (
	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/internal/attrcache"
	"github.com/aperturetechnology/MEGAchat/internal/eventloop"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/internal/store/contacts"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Deps bundles what both directories need: the loop, the cache repositories
// and the remote collaborators. One Deps value is shared by the room and
// contact directories of a session.
type Deps struct {
	Loop     *eventloop.Loop
	Log      logging.Logger
	Dispatch async.Dispatcher

	Chats    *chats.Repo
	Contacts *contacts.Repo

	Sessions remote.ChatSessions
	Titles   remote.TitleCrypto
	Presence remote.Presence
	Attrs    *attrcache.Cache

	// OwnHandle reports the logged-in user; own entries in remote member
	// lists are skipped. Connected gates transport session opening.
	OwnHandle func() remote.Handle
	Connected func() bool

	RoomListener    RoomListener
	ContactListener ContactListener
}

func (d *Deps) normalize() {
	if d.Log == nil {
		d.Log = logging.NewNopLogger()
	}
	if d.Dispatch == nil {
		d.Dispatch = async.Go
	}
	if d.OwnHandle == nil {
		d.OwnHandle = func() remote.Handle { return remote.InvalidHandle }
	}
	if d.Connected == nil {
		d.Connected = func() bool { return false }
	}
	if d.RoomListener == nil {
		d.RoomListener = NopRoomListener{}
	}
	if d.ContactListener == nil {
		d.ContactListener = NopContactListener{}
	}
}
