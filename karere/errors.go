package karere

import "errors"

var (
	// ErrAlreadyInitialized is returned by a second Init call.
	ErrAlreadyInitialized = errors.New("client already initialized")
	// ErrSidMismatch means a snapshot arrived for a different session than
	// the one the cache was opened with.
	ErrSidMismatch = errors.New("snapshot session does not match cached session")
	// ErrTerminated means the client was shut down.
	ErrTerminated = errors.New("client terminated")
	// ErrResumeTimeout means not every room acknowledged a resume request
	// before the deadline; all rooms were forced to reconnect.
	ErrResumeTimeout = errors.New("timed out waiting for room sync acknowledgements")
)
