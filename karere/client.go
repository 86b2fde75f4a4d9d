// Package karere is the engine facade: one Client per account session, owning
// the persistent cache, the contact and room directories and the engine loop.
// The application shell feeds it the backend's events (snapshot fetches,
// connectivity changes, logout, push wakeups) and the client keeps the cache
// an exact mirror of the remote state.
//
// Unless noted otherwise, Client methods must be called on the engine loop
// (run it with Run, or drive it yourself and marshal with Post). OnLogout and
// OnSyncReceived marshal internally since they arrive from other threads.
package karere

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aperturetechnology/MEGAchat/directory"
	"github.com/aperturetechnology/MEGAchat/internal/async"
	"github.com/aperturetechnology/MEGAchat/internal/attrcache"
	"github.com/aperturetechnology/MEGAchat/internal/cache"
	"github.com/aperturetechnology/MEGAchat/internal/eventloop"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/internal/store/contacts"
	"github.com/aperturetechnology/MEGAchat/internal/store/vars"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Client is the state-reconciliation engine for one account session.
type Client struct {
	cfg      Config
	collab   Collaborators
	log      logging.Logger
	loop     *eventloop.Loop
	tracker  *async.Tracker
	dispatch async.Dispatcher

	state     InitState
	connState ConnState
	sid       string
	cachePath string

	db       *cache.DB
	vars     *vars.Repo
	attrs    *attrcache.Cache
	contacts *directory.ContactDirectory
	rooms    *directory.RoomDirectory

	myHandle remote.Handle
	myEmail  string
	lastScsn string

	resume *resumeWait
}

func New(cfg Config, collab Collaborators) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return &Client{
		cfg:      cfg,
		collab:   collab,
		log:      cfg.Logger.With("component", "karere"),
		loop:     eventloop.New(),
		tracker:  async.NewTracker(),
		dispatch: async.Go,
		state:    InitCreated,
	}
}

// Loop exposes the engine loop for shells that drive it themselves.
func (c *Client) Loop() *eventloop.Loop { return c.loop }

// Run consumes the engine loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) { c.loop.Run(ctx) }

// Post marshals fn onto the engine loop from any goroutine.
func (c *Client) Post(fn func()) { c.loop.Post(fn) }

func (c *Client) State() InitState { return c.state }

func (c *Client) MyHandle() remote.Handle { return c.myHandle }
func (c *Client) MyEmail() string         { return c.myEmail }

// Rooms is nil until a cache is open.
func (c *Client) Rooms() *directory.RoomDirectory { return c.rooms }

// Contacts is nil until a cache is open.
func (c *Client) Contacts() *directory.ContactDirectory { return c.contacts }

// Init brings up the session, at most once per Client. With a stored session
// id it opens the cache derived from the id; a structurally unusable cache is
// wiped and the state reports what a fresh snapshot must repair. With an
// empty id it waits for the first snapshot of a fresh login.
func (c *Client) Init(ctx context.Context, sid string) (InitState, error) {
	if c.state != InitCreated {
		return InitErrAlready, ErrAlreadyInitialized
	}
	if sid == "" {
		c.setState(ctx, InitWaitingNewSession)
		return c.state, nil
	}

	path, err := cache.PathForSession(c.cfg.AppDir, sid)
	if err != nil {
		c.setState(ctx, InitErrSidInvalid)
		return c.state, err
	}
	c.sid = sid
	c.cachePath = path

	if err := c.openFromCache(ctx, path); err != nil {
		// wipe so the fresh-login retry starts clean
		_ = cache.Wipe(path)
		if errors.Is(err, cache.ErrNotExists) || errors.Is(err, cache.ErrIncompatible) {
			c.setState(ctx, InitErrNoCache)
		} else {
			c.setState(ctx, InitErrCorruptCache)
		}
		c.log.Warn(ctx, "cache unusable, waiting for a fresh snapshot", "error", err)
		return c.state, nil
	}
	c.setState(ctx, InitHasOfflineSession)
	return c.state, nil
}

// InitAnonymous brings up an anonymous preview session on a fresh cache, with
// no own identity. At most once per Client, mutually exclusive with Init.
func (c *Client) InitAnonymous(ctx context.Context) (InitState, error) {
	if c.state != InitCreated {
		return InitErrAlready, ErrAlreadyInitialized
	}
	path, err := cache.PathForSession(c.cfg.AppDir, "")
	if err != nil {
		return c.state, err
	}
	db, err := cache.Create(ctx, path, c.log)
	if err != nil {
		return c.state, fmt.Errorf("create anonymous cache: %w", err)
	}
	c.cachePath = path
	c.adoptDB(db)
	c.buildDirectories()
	c.setState(ctx, InitAnonymousMode)
	return c.state, nil
}

// OnSnapshotReceived is the completion event of a remote snapshot fetch. From
// an offline session it reconciles the cache against the snapshot; from a
// fresh or failed login it builds a new cache from the snapshot. Either way a
// success ends in HasOnlineSession.
func (c *Client) OnSnapshotReceived(ctx context.Context, sid string, snap remote.Snapshot) error {
	switch c.state {
	case InitHasOfflineSession:
		if sid != c.sid {
			c.setState(ctx, InitErrSidMismatch)
			return ErrSidMismatch
		}
		if err := c.checkSyncWithRemote(ctx, snap); err != nil {
			return err
		}
		c.setState(ctx, InitHasOnlineSession)
		return nil

	case InitWaitingNewSession, InitErrNoCache, InitErrCorruptCache:
		if err := c.initWithNewSession(ctx, sid, snap); err != nil {
			return err
		}
		c.setState(ctx, InitHasOnlineSession)
		return nil

	case InitHasOnlineSession:
		return c.checkSyncWithRemote(ctx, snap)

	default:
		return fmt.Errorf("unexpected snapshot in state %s", c.state)
	}
}

// OnLogout reports a remote logout or session expiry. Safe to call from any
// goroutine and any number of times; only the first one after init takes
// effect.
func (c *Client) OnLogout() {
	async.Run(c.loop, c.tracker, func() {
		if c.state == InitErrSidInvalid || c.state == InitTerminated {
			return
		}
		c.log.Warn(context.Background(), "session invalidated by remote logout")
		c.setState(context.Background(), InitErrSidInvalid)
	})
}

// OnConnStateChange reports transport connectivity. Going connected opens a
// session for every room we are still part of.
func (c *Client) OnConnStateChange(ctx context.Context, s ConnState) {
	if s == c.connState {
		return
	}
	prev := c.connState
	c.connState = s
	c.log.Debug(ctx, "connection state changed", "from", prev, "to", s)
	if s == ConnConnected && c.rooms != nil {
		c.rooms.ConnectAll(ctx)
	}
}

func (c *Client) Connected() bool { return c.connState == ConnConnected }

// Heartbeat drives the batched-commit policy. The shell invokes it
// periodically on the engine loop.
func (c *Client) Heartbeat(ctx context.Context) {
	if c.db.IsOpen() {
		if err := c.db.TimedCommit(ctx); err != nil {
			c.log.Error(ctx, "timed commit failed", "error", err)
		}
	}
}

// Terminate shuts the client down: kills outstanding async work, commits and
// closes the cache, optionally wiping the file. Idempotent.
func (c *Client) Terminate(ctx context.Context, wipe bool) error {
	if c.state == InitTerminated {
		return nil
	}
	c.tracker.Kill()
	if c.rooms != nil {
		c.rooms.Shutdown()
	}
	if c.resume != nil {
		c.finishResume(c.resume, ErrTerminated)
	}

	var err error
	if c.db.IsOpen() {
		if cerr := c.db.Commit(ctx); cerr != nil {
			err = cerr
		}
		if cerr := c.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if wipe && c.cachePath != "" {
		if werr := cache.Wipe(c.cachePath); werr != nil && err == nil {
			err = werr
		}
	}
	c.setState(ctx, InitTerminated)
	return err
}

func (c *Client) setState(ctx context.Context, s InitState) {
	if c.state == s {
		return
	}
	c.log.Info(ctx, "init state changed", "from", c.state, "to", s)
	c.state = s
}

func (c *Client) openFromCache(ctx context.Context, path string) error {
	db, err := cache.Open(ctx, path, c.collab.Backend, c.log)
	if err != nil {
		return err
	}
	c.adoptDB(db)

	handle, err := c.vars.GetUint64(ctx, vars.KeyMyHandle)
	if err != nil {
		c.dropDB()
		return fmt.Errorf("cache identity: %w", err)
	}
	c.myHandle = remote.Handle(handle)
	c.myEmail, _ = c.vars.Get(ctx, vars.KeyMyEmail)
	c.lastScsn, err = c.vars.Get(ctx, vars.KeyScsn)
	if err != nil {
		c.dropDB()
		return fmt.Errorf("cache scsn: %w", err)
	}

	c.buildDirectories()
	if err := c.contacts.LoadFromCache(ctx); err != nil {
		c.dropDB()
		return err
	}
	if err := c.rooms.LoadFromCache(ctx); err != nil {
		c.dropDB()
		return err
	}
	return nil
}

func (c *Client) initWithNewSession(ctx context.Context, sid string, snap remote.Snapshot) error {
	path, err := cache.PathForSession(c.cfg.AppDir, sid)
	if err != nil {
		c.setState(ctx, InitErrSidInvalid)
		return err
	}
	c.sid = sid
	c.cachePath = path

	db, err := cache.Create(ctx, path, c.log)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	c.adoptDB(db)
	c.buildDirectories()

	c.myHandle = snap.OwnHandle
	c.myEmail = snap.OwnEmail
	if err := c.vars.SetUint64(ctx, vars.KeyMyHandle, uint64(snap.OwnHandle)); err != nil {
		return err
	}
	if err := c.vars.Set(ctx, vars.KeyMyEmail, snap.OwnEmail); err != nil {
		return err
	}
	if err := c.vars.SetUint64(ctx, vars.KeyClientIDSeed, randUint64()); err != nil {
		return err
	}

	if err := c.contacts.SyncWithRemote(ctx, snap.Users); err != nil {
		return err
	}
	if _, err := c.rooms.SyncWithRemote(ctx, snap.Chats); err != nil {
		return err
	}
	return c.commit(ctx, snap.Scsn)
}

func (c *Client) adoptDB(db *cache.DB) {
	db.SetCommitEach(c.cfg.CommitEach)
	db.SetCommitInterval(c.cfg.CommitInterval)
	c.db = db
	c.vars = vars.NewRepo(db)
	c.attrs = attrcache.New(c.loop, c.tracker, c.collab.Attrs, c.log, c.dispatch)
}

func (c *Client) dropDB() {
	_ = c.db.Close()
	c.db = nil
	c.vars = nil
	c.attrs = nil
	c.contacts = nil
	c.rooms = nil
}

func (c *Client) buildDirectories() {
	deps := &directory.Deps{
		Loop:            c.loop,
		Log:             c.log,
		Dispatch:        c.dispatch,
		Chats:           chats.NewRepo(c.db),
		Contacts:        contacts.NewRepo(c.db),
		Sessions:        c.collab.Sessions,
		Titles:          c.collab.Titles,
		Presence:        c.collab.Presence,
		Attrs:           c.attrs,
		OwnHandle:       func() remote.Handle { return c.myHandle },
		Connected:       c.Connected,
		RoomListener:    c.collab.RoomListener,
		ContactListener: c.collab.ContactListener,
	}
	c.contacts = directory.NewContactDirectory(deps)
	c.rooms = directory.NewRoomDirectory(deps, c.contacts)
}

func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}
