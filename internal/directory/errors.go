package directory

import (
	"errors"
	"fmt"
)

// Business errors returned by the directory. These are terminal: the retry
// layer never replays them.
var (
	// ErrNotFound means the user has no entitlement record.
	ErrNotFound = errors.New("directory: entitlement not found")
	// ErrAttributeMissing means the record exists but a required attribute
	// is absent.
	ErrAttributeMissing = errors.New("directory: entitlement attribute missing")
	// ErrAttributeInvalid means the record exists but an attribute has an
	// unusable format.
	ErrAttributeInvalid = errors.New("directory: entitlement attribute invalid format")
	// ErrUsageExceeded means record-usage was called with no activations
	// left.
	ErrUsageExceeded = errors.New("directory: usage limit exceeded")
)

// ConnectionError wraps transport-level failures (timeouts, resets,
// exhausted retries). Callers use IsConnectionError to decide whether the
// stale-cache degradation path applies.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("directory: %s: connection failure: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is (or wraps) a directory
// connection-class failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
