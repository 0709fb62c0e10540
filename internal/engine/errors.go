package engine

// dependencyUnavailableError signals a missing native runtime (e.g., a build
// without llama support) so callers can fail fast instead of mocking.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}

// initFailureError wraps any failure to load a model or prime its context.
type initFailureError struct{ cause error }

func (e initFailureError) Error() string { return "engine init: " + e.cause.Error() }
func (e initFailureError) Unwrap() error { return e.cause }

// ErrInitFailure wraps err as a fatal initialization failure.
func ErrInitFailure(err error) error {
	if err == nil {
		return nil
	}
	return initFailureError{cause: err}
}

// IsInitFailure reports whether err is an engine initialization failure.
func IsInitFailure(err error) bool {
	_, ok := err.(initFailureError)
	return ok
}
