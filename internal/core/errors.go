package core

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the server rejects a request with 403.
// It is terminal: authorization failures are never retried.
var ErrUnauthorized = errors.New("unauthorized")

// RemoteError is a non-retryable, non-2xx outcome from the config server.
type RemoteError struct {
	Operation  string
	StatusCode int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: config server returned status %d", e.Operation, e.StatusCode)
}
