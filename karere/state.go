package karere

// InitState is the session lifecycle state. The happy path is Created →
// (WaitingNewSession | HasOfflineSession) → HasOnlineSession → Terminated;
// the Err states are terminal except for ErrNoCache/ErrCorruptCache, which a
// fresh snapshot recovers from.
type InitState int

const (
	InitCreated InitState = iota
	InitWaitingNewSession
	InitHasOfflineSession
	InitHasOnlineSession
	InitAnonymousMode
	InitTerminated
	InitErrNoCache
	InitErrCorruptCache
	InitErrSidInvalid
	InitErrSidMismatch
	InitErrAlready
)

func (s InitState) String() string {
	switch s {
	case InitCreated:
		return "created"
	case InitWaitingNewSession:
		return "waiting-new-session"
	case InitHasOfflineSession:
		return "has-offline-session"
	case InitHasOnlineSession:
		return "has-online-session"
	case InitAnonymousMode:
		return "anonymous-mode"
	case InitTerminated:
		return "terminated"
	case InitErrNoCache:
		return "err-no-cache"
	case InitErrCorruptCache:
		return "err-corrupt-cache"
	case InitErrSidInvalid:
		return "err-sid-invalid"
	case InitErrSidMismatch:
		return "err-sid-mismatch"
	case InitErrAlready:
		return "err-already"
	default:
		return "unknown"
	}
}

// IsError reports whether the state is one of the error states.
func (s InitState) IsError() bool { return s >= InitErrNoCache }

// ConnState is the transport connectivity state as reported by the shell.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "unknown"
	}
}
