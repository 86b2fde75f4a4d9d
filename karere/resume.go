package karere

import (
	"context"
	"time"

	"github.com/aperturetechnology/MEGAchat/directory"
	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// resumeWait is one in-flight resume round: the rooms still owing an
// acknowledgement and everyone waiting for the result.
type resumeWait struct {
	pending map[remote.Handle]bool
	waiters []func(error)
	timer   *time.Timer
}

// PushReceived handles a push-notification wakeup: every room we are part of
// is asked to confirm its session is caught up, and done fires once all
// acknowledgements arrived. If the deadline expires first, every room is
// forced to reconnect and done fires with ErrResumeTimeout. A single resume
// is in flight at a time; calls made while one is pending share its result.
func (c *Client) PushReceived(ctx context.Context, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if c.resume != nil {
		c.resume.waiters = append(c.resume.waiters, done)
		return
	}
	if c.rooms == nil {
		async.Run(c.loop, c.tracker, func() { done(nil) })
		return
	}

	r := &resumeWait{pending: make(map[remote.Handle]bool)}
	c.rooms.Each(func(room directory.Room) {
		if room.OwnPriv() == remote.PrivNotPresent {
			return
		}
		r.pending[room.ID()] = true
		c.collab.Sessions.SendSync(room.ID())
	})
	if len(r.pending) == 0 {
		async.Run(c.loop, c.tracker, func() { done(nil) })
		return
	}

	r.waiters = append(r.waiters, done)
	c.resume = r
	c.log.Debug(ctx, "resume started", "rooms", len(r.pending), "deadline", c.cfg.ResumeTimeout)
	r.timer = time.AfterFunc(c.cfg.ResumeTimeout, func() {
		async.Run(c.loop, c.tracker, func() { c.resumeTimedOut(r) })
	})
}

// OnSyncReceived reports a room's resume acknowledgement. Safe to call from
// any goroutine.
func (c *Client) OnSyncReceived(chatID remote.Handle) {
	async.Run(c.loop, c.tracker, func() {
		r := c.resume
		if r == nil || !r.pending[chatID] {
			return
		}
		delete(r.pending, chatID)
		if len(r.pending) == 0 {
			c.log.Debug(context.Background(), "resume complete")
			c.finishResume(r, nil)
		}
	})
}

func (c *Client) resumeTimedOut(r *resumeWait) {
	if c.resume != r {
		return
	}
	c.log.Warn(context.Background(), "resume deadline expired, forcing reconnect",
		"rooms_pending", len(r.pending))
	c.collab.Sessions.ReconnectAll()
	c.finishResume(r, ErrResumeTimeout)
}

func (c *Client) finishResume(r *resumeWait, err error) {
	if c.resume != r {
		return
	}
	c.resume = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	for _, done := range r.waiters {
		done(err)
	}
}
