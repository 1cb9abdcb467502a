package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "INVOICEPIPE_WORKER_HELPER"

type helperRequest struct {
	Op      string `json:"op"`
	Msg     string `json:"msg,omitempty"`
	SleepMS int    `json:"sleep_ms,omitempty"`
}

type helperResult struct {
	Echo string `json:"echo"`
	PID  int    `json:"pid"`
}

// TestHelperProcess is not a real test. It is the child process started by
// the Manager tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	err := Serve(context.Background(), os.Stdin, os.Stdout, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req helperRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		switch req.Op {
		case "crash":
			os.Exit(3)
		case "garbage":
			fmt.Fprintln(os.Stdout, "this is not json")
		case "fail":
			return nil, errors.New("handler refused")
		case "panic":
			panic("boom")
		case "sleep":
			time.Sleep(time.Duration(req.SleepMS) * time.Millisecond)
		}
		fmt.Fprintln(os.Stderr, "handled", req.Op)
		return helperResult{Echo: req.Msg, PID: os.Getpid()}, nil
	})
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func newHelperManager(t *testing.T, idle time.Duration) *Manager {
	t.Helper()
	m := NewManager(Config{
		Name:        "helper",
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$"},
		Env:         []string{helperEnv + "=1"},
		IdleTimeout: idle,
	}, nil)
	t.Cleanup(m.Shutdown)
	return m
}

func echo(t *testing.T, m *Manager, msg string) helperResult {
	t.Helper()
	var out helperResult
	require.NoError(t, m.Request(context.Background(), helperRequest{Op: "echo", Msg: msg}, &out))
	require.Equal(t, msg, out.Echo)
	return out
}

func TestRequestSpawnsLazilyAndReusesProcess(t *testing.T) {
	m := newHelperManager(t, time.Minute)
	assert.False(t, m.Running())
	assert.Zero(t, m.PID())

	first := echo(t, m, "one")
	assert.True(t, m.Running())
	assert.Equal(t, first.PID, m.PID())
	_, ok := m.StartedAt()
	assert.True(t, ok)

	second := echo(t, m, "two")
	assert.Equal(t, first.PID, second.PID)
}

func TestRemoteErrorKeepsProcess(t *testing.T) {
	m := newHelperManager(t, time.Minute)
	before := echo(t, m, "x")

	err := m.Request(context.Background(), helperRequest{Op: "fail"}, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "handler refused", remote.Message)

	err = m.Request(context.Background(), helperRequest{Op: "panic"}, nil)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "boom")

	after := echo(t, m, "y")
	assert.Equal(t, before.PID, after.PID)
}

func TestCrashRejectsWithoutRetryAndRespawns(t *testing.T) {
	m := newHelperManager(t, time.Minute)
	before := echo(t, m, "alive")

	err := m.Request(context.Background(), helperRequest{Op: "crash"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerExited)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "helper", werr.Worker)

	require.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)

	after := echo(t, m, "again")
	assert.NotEqual(t, before.PID, after.PID)
}

func TestMalformedResponse(t *testing.T) {
	m := newHelperManager(t, time.Minute)
	err := m.Request(context.Background(), helperRequest{Op: "garbage"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	echo(t, m, "recovered")
}

func TestIdleShutdownAndRespawn(t *testing.T) {
	m := newHelperManager(t, 50*time.Millisecond)
	first := echo(t, m, "a")
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)

	second := echo(t, m, "b")
	assert.NotEqual(t, first.PID, second.PID)
	assert.True(t, m.Running())
}

func TestIdleTimerDoesNotFireMidRequest(t *testing.T) {
	m := newHelperManager(t, 30*time.Millisecond)
	first := echo(t, m, "warm")

	var out helperResult
	require.NoError(t, m.Request(context.Background(), helperRequest{Op: "sleep", SleepMS: 120, Msg: "slow"}, &out))
	assert.Equal(t, first.PID, out.PID)
}

func TestSetIdleTimeoutAtRuntime(t *testing.T) {
	m := newHelperManager(t, time.Hour)
	echo(t, m, "a")
	assert.Equal(t, time.Hour, m.IdleTimeout())

	m.SetIdleTimeout(30 * time.Millisecond)
	require.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	m := newHelperManager(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("msg-%d", i)
			var out helperResult
			if assert.NoError(t, m.Request(context.Background(), helperRequest{Op: "echo", Msg: msg}, &out)) {
				assert.Equal(t, msg, out.Echo)
			}
		}(i)
	}
	wg.Wait()
}

func TestShutdownKillsAndRejectsLaterRequests(t *testing.T) {
	m := newHelperManager(t, time.Minute)
	echo(t, m, "a")

	m.Shutdown()
	assert.False(t, m.Running())

	err := m.Request(context.Background(), helperRequest{Op: "echo"}, nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestSpawnFailure(t *testing.T) {
	m := NewManager(Config{Name: "missing", Command: "/nonexistent/worker-binary"}, nil)
	err := m.Request(context.Background(), helperRequest{Op: "echo"}, nil)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "spawn", werr.Op)
}
