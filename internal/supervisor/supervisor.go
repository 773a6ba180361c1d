package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Role identifies what a child process does in the run.
type Role string

const (
	RoleToolService   Role = "tool-service"
	RoleDashboard     Role = "dashboard-primary"
	RoleDashboardTest Role = "dashboard-secondary"
	RoleAgent         Role = "agent"
)

// Handle tracks one spawned child process.
type Handle struct {
	Role    Role
	PID     int
	Path    string
	Args    []string
	LogPath string

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the process exit code, or -1 while it is still running
// and for processes that died on a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return -1
	}
	return h.exitCode
}

func (h *Handle) finish(state *os.ProcessState) {
	h.mu.Lock()
	h.exited = true
	if state != nil {
		h.exitCode = state.ExitCode()
	} else {
		h.exitCode = -1
	}
	h.mu.Unlock()
	close(h.done)
}

// Supervisor spawns child processes and keeps a registry of their handles in
// spawn order. A handle is registered before Spawn returns, so a concurrent
// TerminateAll can never miss a child that was started.
type Supervisor struct {
	logger *zap.Logger
	grace  time.Duration

	mu         sync.Mutex
	handles    []*Handle
	terminated bool
}

// New creates a supervisor. The grace duration bounds how long a child gets
// between the stop signal and a forced kill.
func New(logger *zap.Logger, grace time.Duration) *Supervisor {
	return &Supervisor{
		logger: logger.Named("supervisor"),
		grace:  grace,
	}
}

// Spawn starts a child process with both output channels redirected to the
// given log file, registers its handle, and begins reaping it. An empty
// logPath leaves the child attached to the parent's stdout and stderr, which
// is how the foreground agent run is started.
func (s *Supervisor) Spawn(role Role, path string, args []string, logPath string) (*Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = nil

	var logFile *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir for %s: %w", role, err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file for %s: %w", role, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("cannot spawn %s: supervisor is draining", role)
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start %s (%s): %w", role, path, err)
	}

	h := &Handle{
		Role:    role,
		PID:     cmd.Process.Pid,
		Path:    path,
		Args:    args,
		LogPath: logPath,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	s.handles = append(s.handles, h)
	go s.reap(h, logFile)

	s.logger.Info("Process started",
		zap.String("role", string(role)),
		zap.Int("pid", h.PID),
		zap.String("command", path),
		zap.Strings("args", args),
		zap.String("log", logPath),
	)
	return h, nil
}

func (s *Supervisor) reap(h *Handle, logFile *os.File) {
	_ = h.cmd.Wait()
	if logFile != nil {
		logFile.Close()
	}
	h.finish(h.cmd.ProcessState)

	s.logger.Info("Process exited",
		zap.String("role", string(h.Role)),
		zap.Int("pid", h.PID),
		zap.Int("exit_code", h.ExitCode()),
	)
}

// Handles returns the registered handles in spawn order.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// TerminateAll stops every registered child in reverse spawn order and then
// returns. It runs at most once; later calls are no-ops. A child that fails
// to stop is logged and the teardown moves on to the next one.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	handles := make([]*Handle, len(s.handles))
	copy(handles, s.handles)
	s.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		s.terminate(handles[i])
	}
	s.logger.Info("All child processes terminated", zap.Int("count", len(handles)))
}

func (s *Supervisor) terminate(h *Handle) {
	l := s.logger.With(zap.String("role", string(h.Role)), zap.Int("pid", h.PID))

	if !h.Alive() {
		l.Debug("Process already exited")
		return
	}

	l.Info("Stopping process")
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		l.Warn("Failed to signal process", zap.Error(err))
	}

	select {
	case <-h.done:
		l.Info("Process stopped")
		return
	case <-time.After(s.grace):
	}

	l.Warn("Process did not stop within grace period, killing", zap.Duration("grace", s.grace))
	if err := h.cmd.Process.Kill(); err != nil {
		l.Error("Failed to kill process", zap.Error(err))
		return
	}

	select {
	case <-h.done:
		l.Info("Process killed")
	case <-time.After(2 * time.Second):
		l.Error("Process still running after kill")
	}
}
