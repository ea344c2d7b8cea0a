package manager

import "errors"

var (
	// ErrDuplicateName is returned by Add when an adapter with the same
	// name is already registered.
	ErrDuplicateName = errors.New("manager: duplicate adapter name")

	// ErrDuplicatePrefix is returned by Add when another adapter already
	// emits signals under the same prefix.
	ErrDuplicatePrefix = errors.New("manager: duplicate adapter prefix")

	// ErrAlreadyStarted is returned by Add and StartAll once the manager
	// has been started.
	ErrAlreadyStarted = errors.New("manager: already started")

	// ErrStopped is returned by Add and StartAll after StopAll.
	ErrStopped = errors.New("manager: stopped")

	// ErrStreamEnded describes an event stream that closed without the
	// adapter reporting a cause.
	ErrStreamEnded = errors.New("manager: event stream ended")
)
