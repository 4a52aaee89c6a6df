package bridge

import (
	"errors"
	"fmt"

	"github.com/guseggert/omrbridge/process"
	"github.com/guseggert/omrbridge/readiness"
)

var errClosed = errors.New("bridge closed during startup")

// StartError is the one error reported when the backend cannot be brought up.
type StartError struct {
	Command string
	Addr    string
	Err     error
}

func (e *StartError) Error() string {
	var spawnErr *process.SpawnError
	var timeoutErr *readiness.TimeoutError
	switch {
	case errors.As(e.Err, &spawnErr):
		return fmt.Sprintf("could not launch the OMR backend %q: %s; check that it is installed and executable", e.Command, spawnErr.Err)
	case errors.As(e.Err, &timeoutErr) && e.Addr != "":
		return fmt.Sprintf("the OMR backend did not become reachable at %s within %dms", e.Addr, timeoutErr.ElapsedMS())
	case errors.As(e.Err, &timeoutErr):
		return fmt.Sprintf("the OMR backend did not report ready within %dms", timeoutErr.ElapsedMS())
	default:
		return fmt.Sprintf("the OMR backend failed to start: %s", e.Err)
	}
}

func (e *StartError) Unwrap() error { return e.Err }
