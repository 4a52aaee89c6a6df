//go:build !windows

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/guseggert/omrbridge/config"
	"github.com/guseggert/omrbridge/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const helperEnv = "OMRBRIDGE_CMD_HELPER"

// TestHelperProcess is not a real test. It is a backend that reports ready, records its PID, never
// answers, and ignores stdin closing, like a backend serving on a socket.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if err := os.WriteFile(os.Getenv("PIDFILE"), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		os.Exit(2)
	}
	fmt.Println("READY")
	time.Sleep(time.Minute)
	os.Exit(0)
}

func waitForPID(path string) (int, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(path)
		if err == nil && len(b) > 0 {
			return strconv.Atoi(strings.TrimSpace(string(b)))
		}
		time.Sleep(10 * time.Millisecond)
	}
	return 0, fmt.Errorf("no PID written to %s", path)
}

func TestCallLocalStopsBackendOnSignal(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "backend.pid")

	cfg := config.Defaults()
	cfg.Backend.Executable = os.Args[0]
	cfg.Backend.Args = []string{"-test.run=TestHelperProcess", "--"}
	cfg.Backend.Env = map[string]string{helperEnv: "1", "PIDFILE": pidFile}
	cfg.Bridge.ShutdownGrace = 2 * time.Second

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, stop := signalContext(timeoutCtx)
	defer stop()

	pidCh := make(chan int, 1)
	go func() {
		pid, err := waitForPID(pidFile)
		assert.NoError(t, err)
		pidCh <- pid
		if err == nil {
			assert.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
		}
	}()

	// the helper never answers, so only the signal ends the call
	_, err := callLocal(ctx, cfg, zaptest.NewLogger(t).Sugar(), dispatch.GetExams, nil)
	assert.ErrorIs(t, err, context.Canceled)

	pid := <-pidCh
	require.NotZero(t, pid)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "backend %d still running", pid)
}

func TestMethodsListsCatalogue(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	err = methods(nil)
	os.Stdout = stdout
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, strings.Fields(scanner.Text())[0])
	}
	require.Len(t, names, len(dispatch.Methods()))
	for i, m := range dispatch.Methods() {
		assert.Equal(t, m.Name, names[i])
	}
}
