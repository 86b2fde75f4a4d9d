// Package attrcache caches user attributes (display names) fetched from the
// backend and notifies subscribers when they become known or change. A
// subscription is an owned token; cancelling it unsubscribes. The whole cache
// lives on the engine loop; fetches run off-loop and marshal their results
// back.
package attrcache

import (
	"context"

	"github.com/google/uuid"

	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/internal/eventloop"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

type userEntry struct {
	name     string
	known    bool
	fetching bool
	subs     map[string]func(name string)
}

// Cache is the user-attribute cache. All methods must be called on the engine
// loop.
type Cache struct {
	loop     *eventloop.Loop
	tracker  *async.Tracker
	attrs    remote.UserAttrs
	log      logging.Logger
	dispatch async.Dispatcher
	users    map[remote.Handle]*userEntry
}

func New(loop *eventloop.Loop, tracker *async.Tracker, attrs remote.UserAttrs, log logging.Logger, dispatch async.Dispatcher) *Cache {
	if dispatch == nil {
		dispatch = async.Go
	}
	return &Cache{
		loop:     loop,
		tracker:  tracker,
		attrs:    attrs,
		log:      log,
		dispatch: dispatch,
		users:    make(map[remote.Handle]*userEntry),
	}
}

// Subscription is the cancellation token returned by SubscribeFullName.
type Subscription struct {
	cancel func()
}

// Cancel unsubscribes. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SubscribeFullName registers cb for a user's display name. cb runs on the
// loop, first when the name becomes known (deferred, never inline) and again
// on every later change.
func (c *Cache) SubscribeFullName(userID remote.Handle, cb func(name string)) *Subscription {
	e := c.entry(userID)
	id := uuid.NewString()
	e.subs[id] = cb

	if e.known {
		name := e.name
		async.Run(c.loop, c.tracker, func() { cb(name) })
	} else if !e.fetching {
		c.fetch(userID, e)
	}

	return &Subscription{cancel: func() {
		c.loop.Post(func() { delete(e.subs, id) })
	}}
}

// Name returns the cached display name, if known.
func (c *Cache) Name(userID remote.Handle) (string, bool) {
	e, ok := c.users[userID]
	if !ok || !e.known {
		return "", false
	}
	return e.name, true
}

// Invalidate drops every cached value. Entries with live subscribers are
// refetched; the rest are refetched lazily on next subscription.
func (c *Cache) Invalidate() {
	for userID, e := range c.users {
		e.known = false
		if len(e.subs) > 0 && !e.fetching {
			c.fetch(userID, e)
		}
	}
}

func (c *Cache) entry(userID remote.Handle) *userEntry {
	e, ok := c.users[userID]
	if !ok {
		e = &userEntry{subs: make(map[string]func(string))}
		c.users[userID] = e
	}
	return e
}

func (c *Cache) fetch(userID remote.Handle, e *userEntry) {
	e.fetching = true
	c.dispatch(func() {
		name, err := c.attrs.FetchFullName(context.Background(), userID)
		async.Run(c.loop, c.tracker, func() {
			e.fetching = false
			if err != nil {
				// notify with an empty name so waiters can fall back
				// (e.g. to the contact email); stays unknown and is
				// refetched on the next subscription
				c.log.Debug(context.Background(), "full name fetch failed", "user", userID, "error", err)
				for _, cb := range e.subs {
					cb("")
				}
				return
			}
			e.name = name
			e.known = true
			for _, cb := range e.subs {
				cb(name)
			}
		})
	})
}
