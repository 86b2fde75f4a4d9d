// Package remote defines the data the backend snapshot delivers (contact and
// chat lists plus the scsn sequence marker) and the narrow interfaces of the
// external collaborators the engine drives: the backend cache, the chat
// transport, the title/key crypto module, presence and user attributes. The
// wire protocols behind those interfaces are not this library's concern.
package remote

// Handle is an opaque user or chat identifier assigned by the backend.
type Handle uint64

// InvalidHandle is the zero value; no real user or chat carries it.
const InvalidHandle Handle = 0

// Priv is a participant's privilege level in a chat.
type Priv int

const (
	PrivUnknown    Priv = -2
	PrivNotPresent Priv = -1 // excluded from the chat
	PrivReadOnly   Priv = 0
	PrivStandard   Priv = 2
	PrivModerator  Priv = 3
)

// Visibility of a contact as reported by the backend.
type Visibility int

const (
	// VisibilityUnknown means the account was permanently deleted. Such
	// entries never enter the cache.
	VisibilityUnknown  Visibility = -1
	VisibilityHidden   Visibility = 0
	VisibilityVisible  Visibility = 1
	VisibilityInactive Visibility = 2
)

// User is one remote contact-list entry.
type User struct {
	Handle     Handle
	Email      string
	Visibility Visibility
	Since      int64
}

// ChatPeer is one member of a remote chat, with its privilege.
type ChatPeer struct {
	Handle Handle
	Priv   Priv
}

// Chat is one remote chat-room listing. A non-group chat has exactly one peer.
type Chat struct {
	ID         Handle
	Shard      int
	IsGroup    bool
	OwnPriv    Priv
	Peers      []ChatPeer
	Title      string // encrypted title blob (base64url), empty if none
	Archived   bool
	Public     bool
	UnifiedKey []byte // per-room key material, still encrypted for us
	CreationTS int64
}

// Snapshot is a complete point-in-time remote state: the sequence marker plus
// the full contact and chat listings it covers.
type Snapshot struct {
	Scsn      string
	OwnHandle Handle
	OwnEmail  string
	Users     []User
	Chats     []Chat
}
