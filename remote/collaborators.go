package remote

import "context"

// Backend is the slice of the backend SDK the engine needs: forcing the
// remote-side cache to be rebuilt when a schema migration invalidates it.
type Backend interface {
	InvalidateCache(ctx context.Context) error
}

// OpenParams carries everything the chat transport needs to bring up a room
// session.
type OpenParams struct {
	ChatID     Handle
	Shard      int
	URL        string
	IsGroup    bool
	IsPublic   bool
	UnifiedKey []byte
	Members    []ChatPeer
}

// ChatSessions is the chat-protocol collaborator (chatd). Open/Close manage a
// room's transport session; SendSync requests a resume acknowledgement which
// the shell reports back through Client.OnSyncReceived.
type ChatSessions interface {
	Open(ctx context.Context, p OpenParams) error
	Close(chatID Handle)
	SendSync(chatID Handle)
	ReconnectAll()
}

// TitleCrypto is the crypto collaborator for chat titles. Calls may block and
// are issued off the engine loop; results are marshalled back by the caller.
type TitleCrypto interface {
	DecryptTitle(ctx context.Context, chatID Handle, blob []byte) (string, error)
	EncryptTitle(ctx context.Context, chatID Handle, title string) ([]byte, error)
}

// Presence manages the presence subscription set. Only visible contacts are
// subscribed.
type Presence interface {
	Subscribe(userID Handle)
	Unsubscribe(userID Handle)
}

// UserAttrs fetches user attributes (display names) from the backend. Used by
// the attribute cache; may block.
type UserAttrs interface {
	FetchFullName(ctx context.Context, userID Handle) (string, error)
}
