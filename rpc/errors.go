package rpc

import "errors"

var (
	// ErrBackendUnavailable fails calls once the backend process has crashed, never started, or
	// dropped its connection.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrNotInitialized fails calls made on a bridge that has been shut down.
	ErrNotInitialized = errors.New("bridge not initialized")
)

// RemoteError is a failure reported by the backend for one request.
// Its message is passed through verbatim.
type RemoteError struct {
	ID      int64
	Method  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
