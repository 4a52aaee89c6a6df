package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Supervisor launches backend processes and watches them until they exit.
type Supervisor struct {
	Log *zap.SugaredLogger
}

// StartProc launches the command. The returned Process's stdin is a pipe owned by the caller.
func (s *Supervisor) StartProc(req StartProcRequest) (*Process, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if req.Command == "" {
		return nil, &SpawnError{Err: errors.New("no command configured")}
	}

	cmd := exec.Command(req.Command, req.Args...)
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	cmd.Dir = req.WD
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	cmd.WaitDelay = req.WaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: req.Command, Err: err}
	}

	start := time.Now()
	err = cmd.Start()
	if err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Command: req.Command, Err: err}
	}

	p := &Process{
		log:   log.Named("process").With("PID", cmd.Process.Pid),
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}
	p.log.Debugw("started process", "Command", req.Command, "Args", req.Args, "WD", req.WD)

	go p.wait(start)
	return p, nil
}

type Process struct {
	log   *zap.SugaredLogger
	cmd   *exec.Cmd
	stdin io.WriteCloser

	done   chan struct{}
	result Result

	terminateOnce sync.Once
	terminateErr  error
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Stdin is the write end of the process's standard input.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Done is closed once the process has exited and its output has been copied.
func (p *Process) Done() <-chan struct{} { return p.done }

// Result returns the exit result. It must only be called after Done is closed.
func (p *Process) Result() Result {
	<-p.done
	return p.result
}

func (p *Process) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		res := p.result
		return &res, res.Err
	}
}

// Terminate asks the process to stop, closing its stdin and sending SIGTERM, and kills it if it
// is still running after grace. Terminating an exited process is a no-op, and only the first call
// does any work.
func (p *Process) Terminate(ctx context.Context, grace time.Duration) error {
	p.terminateOnce.Do(func() {
		p.terminateErr = p.terminate(ctx, grace)
	})
	return p.terminateErr
}

func (p *Process) terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.stdin.Close()

	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if err != nil {
		// not every platform can deliver SIGTERM
		p.log.Debugw("unable to signal process, killing it", "Error", err)
		return p.kill(ctx)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		p.log.Debug("process stopped after SIGTERM")
		return nil
	case <-timer.C:
		p.log.Infow("process ignored SIGTERM, killing it", "Grace", grace)
		return p.kill(ctx)
	case <-ctx.Done():
		return p.kill(ctx)
	}
}

func (p *Process) kill(ctx context.Context) error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process %d: %w", p.PID(), err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for killed process %d: %w", p.PID(), ctx.Err())
	}
}

func (p *Process) wait(start time.Time) {
	err := p.cmd.Wait()
	res := Result{TimeMS: time.Since(start).Milliseconds()}
	if p.cmd.ProcessState != nil {
		res.ExitCode = p.cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		res.Err = err
	}
	p.result = res

	p.log.Debugw("process exited", "ExitCode", res.ExitCode, "TimeMS", res.TimeMS, "Error", res.Err)
	close(p.done)
}
