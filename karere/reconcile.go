package karere

import (
	"context"

	"github.com/aperturetechnology/MEGAchat/internal/metrics"
	"github.com/aperturetechnology/MEGAchat/internal/store/vars"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// checkSyncWithRemote compares the cached scsn marker against the snapshot's.
// A match means the cache already mirrors the remote and only the marker is
// (re)committed. A mismatch means the cache is behind by an unknown set of
// changes; rather than attempt delta replay, the contact and room sets are
// fully re-derived from the snapshot and the new marker committed with them.
func (c *Client) checkSyncWithRemote(ctx context.Context, snap remote.Snapshot) error {
	if snap.Scsn == "" || snap.Scsn == c.lastScsn {
		return c.commit(ctx, snap.Scsn)
	}

	c.log.Warn(ctx, "cache out of sync with remote, reconciling",
		"cached_scsn", c.lastScsn, "remote_scsn", snap.Scsn)
	metrics.Reconciliations.Inc()

	// cached attributes may be stale for the same reason the cache is
	c.attrs.Invalidate()

	if err := c.contacts.SyncWithRemote(ctx, snap.Users); err != nil {
		return err
	}
	stats, err := c.rooms.SyncWithRemote(ctx, snap.Chats)
	if err != nil {
		return err
	}
	c.log.Info(ctx, "reconciliation complete",
		"rooms_added", stats.Added, "rooms_updated", stats.Updated, "rooms_removed", stats.Removed)

	return c.commit(ctx, snap.Scsn)
}

// commit persists scsn as the new baseline marker and commits the open cache
// transaction; the marker write and the batch land atomically. An empty or
// repeated marker commits without rewriting the marker.
func (c *Client) commit(ctx context.Context, scsn string) error {
	if !c.db.IsOpen() {
		return nil
	}
	if scsn == "" || scsn == c.lastScsn {
		return c.db.Commit(ctx)
	}
	if err := c.vars.Set(ctx, vars.KeyScsn, scsn); err != nil {
		return err
	}
	if err := c.db.Commit(ctx); err != nil {
		return err
	}
	c.lastScsn = scsn
	return nil
}

// OnContactsUpdate applies an incremental contact notification from the
// remote. Deltas only make sense against a live baseline; they are dropped in
// any other state.
func (c *Client) OnContactsUpdate(ctx context.Context, users []remote.User) error {
	if c.state != InitHasOnlineSession {
		return nil
	}
	return c.contacts.ApplyDelta(ctx, users)
}

// OnChatsUpdate applies an incremental chat-room notification. Rooms absent
// from the delta are untouched; each listed room goes through the same
// field-by-field reconciliation as a full snapshot pass.
func (c *Client) OnChatsUpdate(ctx context.Context, list []remote.Chat) error {
	if c.state != InitHasOnlineSession {
		return nil
	}
	_, err := c.rooms.SyncWithRemote(ctx, list)
	return err
}

// OnCommitSignal commits the open batch, advancing the baseline marker to
// scsn when one is supplied. The shell calls it when the remote signals the
// end of a change batch, or with an empty scsn when the app is about to
// background.
func (c *Client) OnCommitSignal(ctx context.Context, scsn string) error {
	return c.commit(ctx, scsn)
}
