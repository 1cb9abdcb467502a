// Package worker runs long-lived helper processes that speak line-delimited
// JSON over stdio, and provides the serve loop those helpers use.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxLineBytes = 64 << 20

type Config struct {
	Name        string   // label used in logs and errors, e.g. "text" or "ocr"
	Command     string   // binary name or absolute path
	Args        []string // extra arguments
	Env         []string // appended to the parent environment
	Dir         string
	IdleTimeout time.Duration // 0 disables idle shutdown

	MaxLineBytes int           // largest accepted response line; default 64MB
	StopGrace    time.Duration // how long Shutdown waits for the process to exit; default 2s
}

// Manager owns at most one child process. The process is spawned on first
// use, serves one request at a time and is terminated after IdleTimeout
// without traffic. The next Request respawns it.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	reqMu sync.Mutex

	mu     sync.Mutex
	proc   *process
	idle   time.Duration
	timer  *time.Timer
	gen    uint64
	busy   bool
	closed bool
}

type process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	frames    chan frame
	done      chan struct{}
	stopping  chan struct{}
	stopOnce  sync.Once
	exitErr   error
	startedAt time.Time
}

type frame struct {
	resp responseFrame
	err  error
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Command
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("worker", cfg.Name),
		idle:   cfg.IdleTimeout,
	}
}

func (m *Manager) Name() string { return m.cfg.Name }

// Request sends payload to the worker and decodes the matching result into
// out (which may be nil). A crash or an unparseable response is returned as
// an error; nothing is retried here.
func (m *Manager) Request(ctx context.Context, payload any, out any) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	p, err := m.begin()
	if err != nil {
		return err
	}
	defer m.end(p)

	id := uuid.NewString()
	line, err := json.Marshal(requestFrame{ID: id, Payload: payload})
	if err != nil {
		return &Error{Worker: m.cfg.Name, Op: "encode", Err: err}
	}
	line = append(line, '\n')

	start := time.Now()
	if _, err := p.stdin.Write(line); err != nil {
		m.kill(p)
		select {
		case <-p.done:
		case <-time.After(m.cfg.StopGrace):
		}
		return m.exitError(p, "write", err)
	}

	for {
		select {
		case f := <-p.frames:
			done, err := m.handleFrame(p, id, f, out)
			if done {
				m.logger.Debug("worker.request.done", "req_id", id, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
				return err
			}
		case <-p.done:
			// frames written before exit are delivered ahead of done
			for drained := false; !drained; {
				select {
				case f := <-p.frames:
					if done, err := m.handleFrame(p, id, f, out); done {
						return err
					}
				default:
					drained = true
				}
			}
			return m.exitError(p, "request", p.exitErr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) handleFrame(p *process, id string, f frame, out any) (bool, error) {
	if f.err != nil {
		m.logger.Error("worker.response.malformed", "error", f.err)
		m.kill(p)
		return true, &Error{Worker: m.cfg.Name, Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, f.err)}
	}
	if f.resp.ID != id {
		m.logger.Warn("worker.response.stale", "want_id", id, "got_id", f.resp.ID)
		return false, nil
	}
	if f.resp.Error != "" {
		return true, &RemoteError{Worker: m.cfg.Name, Message: f.resp.Error}
	}
	if out != nil {
		if err := json.Unmarshal(f.resp.Result, out); err != nil {
			return true, &Error{Worker: m.cfg.Name, Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}
	}
	return true, nil
}

func (m *Manager) exitError(p *process, op string, cause error) error {
	if cause == nil {
		cause = errors.New("no response before exit")
	}
	select {
	case <-p.done:
		return &Error{Worker: m.cfg.Name, Op: op, Err: fmt.Errorf("%w: %v", ErrWorkerExited, cause)}
	default:
		return &Error{Worker: m.cfg.Name, Op: op, Err: cause}
	}
}

// begin marks the manager busy and returns a live process, spawning one if needed.
func (m *Manager) begin() (*process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &Error{Worker: m.cfg.Name, Op: "request", Err: ErrShutdown}
	}
	m.stopTimerLocked()
	if m.proc == nil {
		p, err := m.spawn()
		if err != nil {
			return nil, &Error{Worker: m.cfg.Name, Op: "spawn", Err: err}
		}
		m.proc = p
	}
	m.busy = true
	return m.proc, nil
}

func (m *Manager) end(p *process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if m.closed || m.proc != p {
		return
	}
	m.armTimerLocked()
}

func (m *Manager) spawn() (*process, error) {
	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	cmd.Env = append(os.Environ(), m.cfg.Env...)
	cmd.Dir = m.cfg.Dir
	cmd.Stderr = &lineLogger{logger: m.logger}
	cmd.WaitDelay = m.cfg.StopGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.cfg.Command, err)
	}

	p := &process{
		cmd:       cmd,
		stdin:     stdin,
		frames:    make(chan frame, 16),
		done:      make(chan struct{}),
		stopping:  make(chan struct{}),
		startedAt: time.Now(),
	}
	m.logger.Info("worker.spawned", "pid", cmd.Process.Pid, "command", m.cfg.Command)

	go m.readLoop(p, stdout)
	return p, nil
}

func (m *Manager) readLoop(p *process, stdout io.Reader) {
	deliver := func(f frame) {
		select {
		case p.frames <- f:
		case <-p.stopping:
		}
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64<<10), m.cfg.MaxLineBytes)
	for sc.Scan() {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var r responseFrame
		err := json.Unmarshal(b, &r)
		if err == nil && r.ID == "" {
			err = errors.New("response without id")
		}
		deliver(frame{resp: r, err: err})
	}
	if err := sc.Err(); err != nil {
		deliver(frame{err: err})
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	}

	p.exitErr = p.cmd.Wait()
	close(p.done)

	m.mu.Lock()
	if m.proc == p {
		m.proc = nil
	}
	m.mu.Unlock()
	m.logger.Info("worker.exited",
		"pid", p.cmd.Process.Pid,
		"uptime_ms", time.Since(p.startedAt).Milliseconds(),
		"error", p.exitErr,
	)
}

// kill detaches p from the manager and terminates it. Callers must not hold mu.
func (m *Manager) kill(p *process) {
	m.mu.Lock()
	if m.proc == p {
		m.proc = nil
	}
	m.mu.Unlock()
	p.stopOnce.Do(func() {
		close(p.stopping)
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

func (m *Manager) armTimerLocked() {
	m.stopTimerLocked()
	if m.idle <= 0 || m.proc == nil {
		return
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.idle, func() { m.idleFire(gen) })
}

func (m *Manager) stopTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) idleFire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.busy || m.proc == nil {
		m.mu.Unlock()
		return
	}
	p := m.proc
	m.proc = nil
	m.timer = nil
	m.mu.Unlock()

	m.logger.Info("worker.idle_shutdown", "pid", p.cmd.Process.Pid, "idle", m.IdleTimeout().String())
	m.kill(p)
}

// SetIdleTimeout changes the idle period. A pending idle timer is restarted
// with the new value.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle = d
	if !m.busy && !m.closed && m.proc != nil {
		m.armTimerLocked()
	}
}

func (m *Manager) IdleTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// Running reports whether a child process is currently alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc != nil
}

// PID returns the child's pid, or 0 when none is running.
func (m *Manager) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc == nil {
		return 0
	}
	return m.proc.cmd.Process.Pid
}

// StartedAt returns when the current child was spawned.
func (m *Manager) StartedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc == nil {
		return time.Time{}, false
	}
	return m.proc.startedAt, true
}

// Shutdown kills the child immediately, busy or not. Later requests fail
// with ErrShutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	p := m.proc
	m.proc = nil
	m.mu.Unlock()

	if p == nil {
		return
	}
	m.logger.Info("worker.shutdown", "pid", p.cmd.Process.Pid)
	m.kill(p)
	select {
	case <-p.done:
	case <-time.After(m.cfg.StopGrace):
		m.logger.Warn("worker.shutdown.timeout", "pid", p.cmd.Process.Pid)
	}
}

// lineLogger forwards a child's stderr to the logger one line at a time.
type lineLogger struct {
	logger *slog.Logger
	buf    []byte
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.buf = append(l.buf, b...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(l.buf[:i]); len(line) > 0 {
			l.logger.Debug("worker.stderr", "line", string(line))
		}
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > 8<<10 {
		l.logger.Debug("worker.stderr", "line", string(l.buf))
		l.buf = l.buf[:0]
	}
	return len(b), nil
}
