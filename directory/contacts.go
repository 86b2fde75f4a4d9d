package directory

import (
	"context"

	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/internal/store/contacts"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Contact is one contact-list entry. It may hold a non-owning reference to
// the 1:1 room shared with that user; the reference is attached once by the
// room and detached only when the contact is deleted.
type Contact struct {
	dir        *ContactDirectory
	handle     remote.Handle
	email      string
	visibility remote.Visibility
	since      int64
	room       *PeerRoom
}

func (c *Contact) Handle() remote.Handle         { return c.handle }
func (c *Contact) Email() string                 { return c.email }
func (c *Contact) Visibility() remote.Visibility { return c.visibility }
func (c *Contact) Since() int64                  { return c.since }

// Room returns the attached 1:1 room, or nil.
func (c *Contact) Room() *PeerRoom { return c.room }

func (c *Contact) attachRoom(r *PeerRoom) {
	if c.room != nil && c.room != r {
		c.dir.deps.Log.Warn(context.Background(), "contact already attached to another 1:1 room, keeping first",
			"user", c.handle, "chat", r.id, "attached", c.room.id)
		return
	}
	c.room = r
	r.contact = c
}

// ContactDirectory is the reconciled contact set. All methods run on the
// engine loop.
type ContactDirectory struct {
	deps     *Deps
	contacts map[remote.Handle]*Contact
}

func NewContactDirectory(deps *Deps) *ContactDirectory {
	deps.normalize()
	return &ContactDirectory{
		deps:     deps,
		contacts: make(map[remote.Handle]*Contact),
	}
}

// Get returns the contact for a user, or nil.
func (d *ContactDirectory) Get(userID remote.Handle) *Contact {
	return d.contacts[userID]
}

// Len reports the number of contacts.
func (d *ContactDirectory) Len() int { return len(d.contacts) }

// LoadFromCache populates the directory from the persisted contact rows and
// subscribes visible contacts to presence.
func (d *ContactDirectory) LoadFromCache(ctx context.Context) error {
	rows, err := d.deps.Contacts.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		c := &Contact{
			dir:        d,
			handle:     row.UserID,
			email:      row.Email,
			visibility: row.Visibility,
			since:      row.Since,
		}
		d.contacts[c.handle] = c
		if c.visibility == remote.VisibilityVisible {
			d.deps.Presence.Subscribe(c.handle)
		}
	}
	d.deps.Log.Debug(ctx, "contact list loaded from cache", "count", len(rows))
	return nil
}

// SyncWithRemote replaces the contact set with the remote listing. Entries
// with unknown visibility (permanently deleted accounts) are ignored
// entirely; local entries absent from the listing are deleted.
func (d *ContactDirectory) SyncWithRemote(ctx context.Context, users []remote.User) error {
	seen := make(map[remote.Handle]bool, len(users))
	for _, u := range users {
		if u.Visibility == remote.VisibilityUnknown {
			d.deps.Log.Debug(ctx, "skipping deleted account in contact listing", "user", u.Handle)
			continue
		}
		seen[u.Handle] = true
		if err := d.addOrUpdate(ctx, u); err != nil {
			return err
		}
	}
	for userID := range d.contacts {
		if !seen[userID] {
			if err := d.remove(ctx, userID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyDelta applies an incremental contact update. Unlike SyncWithRemote,
// contacts absent from the delta are left alone; an entry arriving with
// unknown visibility means the account was deleted and removes the contact.
func (d *ContactDirectory) ApplyDelta(ctx context.Context, users []remote.User) error {
	for _, u := range users {
		if u.Visibility == remote.VisibilityUnknown {
			if _, ok := d.contacts[u.Handle]; ok {
				if err := d.remove(ctx, u.Handle); err != nil {
					return err
				}
			}
			continue
		}
		if err := d.addOrUpdate(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (d *ContactDirectory) addOrUpdate(ctx context.Context, u remote.User) error {
	c, ok := d.contacts[u.Handle]
	if !ok {
		err := d.deps.Contacts.Upsert(ctx, contacts.Row{
			UserID:     u.Handle,
			Email:      u.Email,
			Visibility: u.Visibility,
			Since:      u.Since,
		})
		if err != nil {
			return err
		}
		metrics.ContactWrites.Inc()
		c = &Contact{
			dir:        d,
			handle:     u.Handle,
			email:      u.Email,
			visibility: u.Visibility,
			since:      u.Since,
		}
		d.contacts[u.Handle] = c
		if c.visibility == remote.VisibilityVisible {
			d.deps.Presence.Subscribe(c.handle)
		}
		d.deps.ContactListener.OnContactAdded(c.handle)
		return nil
	}

	if c.email != u.Email {
		c.email = u.Email
		err := d.deps.Contacts.Upsert(ctx, contacts.Row{
			UserID:     c.handle,
			Email:      c.email,
			Visibility: c.visibility,
			Since:      c.since,
		})
		if err != nil {
			return err
		}
		metrics.ContactWrites.Inc()
	}
	if c.visibility != u.Visibility {
		if err := d.setVisibility(ctx, c, u.Visibility); err != nil {
			return err
		}
	}
	return nil
}

func (d *ContactDirectory) setVisibility(ctx context.Context, c *Contact, v remote.Visibility) error {
	if err := d.deps.Contacts.UpdateVisibility(ctx, c.handle, v); err != nil {
		return err
	}
	metrics.ContactWrites.Inc()
	old := c.visibility
	c.visibility = v

	if v == remote.VisibilityVisible && old != remote.VisibilityVisible {
		d.deps.Presence.Subscribe(c.handle)
		if old == remote.VisibilityHidden && c.room != nil {
			d.deps.RoomListener.OnRejoinedChat(c.room.id)
		}
	} else if v != remote.VisibilityVisible && old == remote.VisibilityVisible {
		d.deps.Presence.Unsubscribe(c.handle)
	}
	d.deps.ContactListener.OnVisibilityChanged(c.handle, v)
	return nil
}

func (d *ContactDirectory) remove(ctx context.Context, userID remote.Handle) error {
	c := d.contacts[userID]
	if c.visibility == remote.VisibilityVisible {
		d.deps.Presence.Unsubscribe(userID)
	}
	// detach the 1:1 room but leave it alive; room removal has its own
	// signal (own privilege dropping to not present)
	if c.room != nil {
		c.room.contact = nil
		c.room = nil
	}
	if err := d.deps.Contacts.Delete(ctx, userID); err != nil {
		return err
	}
	metrics.ContactWrites.Inc()
	delete(d.contacts, userID)
	d.deps.ContactListener.OnContactRemoved(userID)
	return nil
}
