package manager

// tooBusyError signals admission timeout or shutdown for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string { return "too busy: " + e.reason }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

type sessionNotFoundError struct{ id string }

func (e sessionNotFoundError) Error() string { return "session not found: " + e.id }

// ErrSessionNotFound returns an error for an unknown session id.
func ErrSessionNotFound(id string) error { return sessionNotFoundError{id: id} }

// IsSessionNotFound reports whether the error indicates a missing session id.
func IsSessionNotFound(err error) bool {
	_, ok := err.(sessionNotFoundError)
	return ok
}

// notAwaitingError is returned when input arrives while the loop is not
// waiting for it.
type notAwaitingError struct {
	id    string
	state string
}

func (e notAwaitingError) Error() string {
	return "session " + e.id + " is not awaiting input (state " + e.state + ")"
}

// IsNotAwaiting reports whether err means the session did not want input (409).
func IsNotAwaiting(err error) bool {
	_, ok := err.(notAwaitingError)
	return ok
}

type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "invalid request: " + e.msg }

// IsInvalidRequest reports whether err was caused by bad session parameters (400).
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// cacheInUseError means another live session holds the cache file.
type cacheInUseError struct {
	cache string
	owner string
}

func (e cacheInUseError) Error() string {
	return "cache " + e.cache + " is in use by session " + e.owner
}

// IsCacheInUse reports whether err is a cache lock conflict (409).
func IsCacheInUse(err error) bool {
	_, ok := err.(cacheInUseError)
	return ok
}

// dependencyUnavailableError signals that no model runtime could be built,
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
