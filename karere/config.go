package karere

import (
	"time"

	"github.com/aperturetechnology/MEGAchat/directory"
	"github.com/aperturetechnology/MEGAchat/logging"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Config carries the client's settings. Call LoadDefaults first, then
// override what you need.
type Config struct {
	// AppDir is the directory the cache database files live in.
	AppDir string

	Logger logging.Logger

	// CommitEach commits the cache after every write instead of batching.
	CommitEach bool
	// CommitInterval is the batched-commit flush interval driven by
	// Heartbeat. Ignored in commit-each mode.
	CommitInterval time.Duration
	// ResumeTimeout bounds the wait for room sync acknowledgements after
	// PushReceived before every room is forced to reconnect.
	ResumeTimeout time.Duration
}

// LoadDefaults fills the config with the standard values.
func (c *Config) LoadDefaults() {
	c.CommitInterval = 20 * time.Second
	c.ResumeTimeout = 3 * time.Second
}

// Collaborators are the external services the engine drives. Backend, Sessions,
// Titles, Presence and Attrs are required; the listeners default to no-ops.
type Collaborators struct {
	Backend  remote.Backend
	Sessions remote.ChatSessions
	Titles   remote.TitleCrypto
	Presence remote.Presence
	Attrs    remote.UserAttrs

	RoomListener    directory.RoomListener
	ContactListener directory.ContactListener
}
