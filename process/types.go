package process

import (
	"fmt"
	"io"
	"time"
)

type StartProcRequest struct {
	Command string
	Args    []string
	// Env is appended to the current environment.
	Env []string
	WD  string

	// Stdout and Stderr receive the process output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// WaitDelay bounds how long output copying may continue after the process exits.
	WaitDelay time.Duration
}

// Result describes how a process ended.
type Result struct {
	ExitCode int
	TimeMS   int64
	// Err is set when the process could not be waited on, as opposed to exiting non-zero.
	Err error
}

// SpawnError means the executable could not be launched at all, for example because it is missing
// or not executable.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("launching %q: %s", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
