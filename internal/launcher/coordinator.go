package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/readiness"
	"ai-trader-go/internal/supervisor"
	"go.uber.org/zap"
)

// State is the coordinator's position in the run lifecycle.
type State int

const (
	StateIdle State = iota
	StateToolServiceStarting
	StateAwaitingReadiness
	StateDashboardStarting
	StateAgentRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateToolServiceStarting:
		return "ToolServiceStarting"
	case StateAwaitingReadiness:
		return "AwaitingReadiness"
	case StateDashboardStarting:
		return "DashboardStarting"
	case StateAgentRunning:
		return "AgentRunning"
	case StateDraining:
		return "Draining"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

var errInterrupted = errors.New("interrupted by signal")

// Coordinator drives one full run: tool service up, dashboards up, agent run
// to completion, then teardown of every child in reverse spawn order. The
// teardown runs on every exit path, including interruption signals.
type Coordinator struct {
	cfg    config.RunConfig
	logger *zap.Logger
	sup    *supervisor.Supervisor
	state  State
}

// New creates a coordinator for the given run configuration.
func New(cfg config.RunConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logger.Named("launcher"),
		sup:    supervisor.New(logger, cfg.Launcher.GraceTimeout),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return c.state
}

// Handles returns the spawned child handles in spawn order.
func (c *Coordinator) Handles() []*supervisor.Handle {
	return c.sup.Handles()
}

func (c *Coordinator) enter(s State) {
	c.state = s
	c.logger.Debug("State changed", zap.String("state", s.String()))
}

// Run executes the whole lifecycle and returns the process exit code: the
// agent's own exit code on a completed run, 130 on interruption, 1 on any
// spawn or readiness failure.
func (c *Coordinator) Run(ctx context.Context, signals <-chan os.Signal) int {
	code, err := c.run(ctx, signals)
	if err != nil && !errors.Is(err, errInterrupted) {
		c.logger.Error("Run failed", zap.Error(err))
	}
	return code
}

func (c *Coordinator) run(ctx context.Context, signals <-chan os.Signal) (int, error) {
	defer func() {
		c.enter(StateDraining)
		c.logger.Info("Draining child processes")
		c.sup.TerminateAll()
		c.enter(StateTerminated)
	}()

	c.enter(StateToolServiceStarting)
	path, args := splitCommand(c.cfg.Launcher.ToolBin)
	c.logger.Info("Starting tool service",
		zap.String("command", c.cfg.Launcher.ToolBin),
		zap.Int("port", c.cfg.Tool.Port),
	)
	if _, err := c.sup.Spawn(supervisor.RoleToolService, path, args, filepath.Join(c.cfg.Paths.LogsDir, "toolsvc.log")); err != nil {
		return 1, err
	}

	c.enter(StateAwaitingReadiness)
	if err := c.await(ctx, signals, c.toolGate()); err != nil {
		return c.exitCodeFor(err), err
	}

	c.enter(StateDashboardStarting)
	started, err := c.startDashboards()
	if err != nil {
		return 1, err
	}
	if started > 0 {
		if err := c.await(ctx, signals, c.dashboardGate()); err != nil {
			return c.exitCodeFor(err), err
		}
	}

	c.enter(StateAgentRunning)
	path, args = splitCommand(c.cfg.Launcher.AgentBin)
	args = append(args, c.cfg.ConfigPath)
	c.logger.Info("Starting agent run",
		zap.String("command", c.cfg.Launcher.AgentBin),
		zap.String("config", c.cfg.ConfigPath),
	)
	agent, err := c.sup.Spawn(supervisor.RoleAgent, path, args, "")
	if err != nil {
		return 1, err
	}

	select {
	case <-agent.Done():
		code := agent.ExitCode()
		c.logger.Info("Agent run finished", zap.Int("exit_code", code))
		return code, nil
	case sig := <-signals:
		c.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		return 130, errInterrupted
	case <-ctx.Done():
		return 130, ctx.Err()
	}
}

func (c *Coordinator) startDashboards() (int, error) {
	started := 0
	if c.cfg.Dashboard.Port > 0 {
		if err := c.startDashboard(supervisor.RoleDashboard, c.cfg.Dashboard.Port, c.cfg.Dashboard.Reload, "dashboard.log"); err != nil {
			return started, err
		}
		started++
	}
	if c.cfg.Dashboard.TestPort > 0 {
		if err := c.startDashboard(supervisor.RoleDashboardTest, c.cfg.Dashboard.TestPort, c.cfg.Dashboard.TestReload, "dashboard-test.log"); err != nil {
			return started, err
		}
		started++
	}
	return started, nil
}

func (c *Coordinator) startDashboard(role supervisor.Role, port int, reload bool, logName string) error {
	path, args := splitCommand(c.cfg.Launcher.DashboardBin)
	args = append(args, dashboardArgs(c.cfg.Dashboard, port, reload)...)
	c.logger.Info("Starting dashboard",
		zap.String("role", string(role)),
		zap.Int("port", port),
		zap.Bool("reload", reload),
	)
	_, err := c.sup.Spawn(role, path, args, filepath.Join(c.cfg.Paths.LogsDir, logName))
	return err
}

// dashboardArgs builds the per-instance flags. Live-reload instances always
// run with exactly one worker; reload and multi-worker concurrency are
// mutually exclusive.
func dashboardArgs(d config.Dashboard, port int, reload bool) []string {
	args := []string{"--port", strconv.Itoa(port)}
	if reload {
		return append(args, "--reload", "--workers", "1")
	}
	return append(args,
		"--workers", strconv.Itoa(d.Workers),
		"--limit-concurrency", strconv.Itoa(d.LimitConcurrency),
	)
}

func (c *Coordinator) toolGate() readiness.Gate {
	if c.cfg.Launcher.ReadinessProbe {
		return readiness.NewHTTPProbe(c.cfg.Tool.BaseURL+"/health", c.cfg.Launcher.ReadinessTimeout, c.logger)
	}
	return readiness.NewFixedDelay(c.cfg.Launcher.ToolStartupWait, c.logger)
}

func (c *Coordinator) dashboardGate() readiness.Gate {
	if c.cfg.Launcher.ReadinessProbe {
		port := c.cfg.Dashboard.Port
		if port == 0 {
			port = c.cfg.Dashboard.TestPort
		}
		url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
		return readiness.NewHTTPProbe(url, c.cfg.Launcher.ReadinessTimeout, c.logger)
	}
	return readiness.NewFixedDelay(c.cfg.Launcher.DashboardStartupWait, c.logger)
}

// await blocks on a readiness gate while staying responsive to interruption
// signals.
func (c *Coordinator) await(ctx context.Context, signals <-chan os.Signal, gate readiness.Gate) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- gate.Await(waitCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("readiness wait: %w", err)
		}
		return nil
	case sig := <-signals:
		c.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		return errInterrupted
	}
}

func (c *Coordinator) exitCodeFor(err error) int {
	if errors.Is(err, errInterrupted) {
		return 130
	}
	return 1
}

// splitCommand splits a configured command string on whitespace into the
// executable path and leading arguments.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command, nil
	}
	return fields[0], fields[1:]
}
