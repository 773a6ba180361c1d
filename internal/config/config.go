package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath is used when no config file argument is given.
const DefaultConfigPath = "configs/default_config.json"

// RunConfig holds every environment-sourced runtime parameter, resolved once
// at startup. All binaries read from this object instead of the environment.
type RunConfig struct {
	ConfigPath string

	Launcher  Launcher
	Paths     Paths
	Tool      Tool
	Upbit     Upbit
	Dashboard Dashboard
	Agent     Agent
	Logger    Logger
}

// Launcher holds the process-topology parameters for the run coordinator.
type Launcher struct {
	ToolBin      string
	DashboardBin string
	AgentBin     string

	ToolStartupWait      time.Duration
	DashboardStartupWait time.Duration
	ReadinessProbe       bool
	ReadinessTimeout     time.Duration
	GraceTimeout         time.Duration
}

// Dashboard holds the parameters for the dashboard instances.
type Dashboard struct {
	Port             int
	TestPort         int
	Reload           bool
	TestReload       bool
	Workers          int
	LimitConcurrency int
}

// Paths holds the shared filesystem locations.
type Paths struct {
	DataDir string
	LogsDir string
}

// Tool holds the configuration for the tool service.
type Tool struct {
	Port         int
	BaseURL      string
	DatabasePath string
	FeeRate      float64
	Quote        string
}

// Upbit holds the configuration for the Upbit public API client.
type Upbit struct {
	BaseURL        string
	RateLimit      float64
	RateLimitBurst int
}

// Agent holds the date-range overrides for the agent run.
type Agent struct {
	InitDate  string
	EndDate   string
	UseToday  bool
	StartCash float64
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string
	Format string
}

func newViper() *viper.Viper {
	v := viper.New()

	// Every key maps to an upper-cased environment variable.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("tool_http_port", 8002)
	v.SetDefault("tool_base_url", "")
	v.SetDefault("tool_db_path", filepath.Join("data", "toolsvc.db"))
	v.SetDefault("dashboard_port", 8080)
	v.SetDefault("test_dashboard_port", 0)
	v.SetDefault("dashboard_workers", 2)
	v.SetDefault("dashboard_limit_concurrency", 32)
	v.SetDefault("tool_startup_wait", 5.0)      // seconds
	v.SetDefault("dashboard_startup_wait", 2.0) // seconds
	v.SetDefault("readiness_probe_timeout", 30.0)
	v.SetDefault("child_grace_timeout", 5.0)
	v.SetDefault("logs_dir", "logs")
	v.SetDefault("agent_data_dir", filepath.Join("data", "agent_data"))
	v.SetDefault("upbit_api_base", "https://api.upbit.com")
	v.SetDefault("upbit_rate_limit", 8) // requests per second
	v.SetDefault("upbit_rate_burst", 4) // burst size
	v.SetDefault("quote_currency", "KRW")
	v.SetDefault("fee_rate", 0.0005)
	v.SetDefault("start_cash", 100_000_000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	return v
}

// flagSet reports whether a boolean environment key is enabled. Only the
// spelling "true" counts, case-insensitively; anything else is false.
func flagSet(v *viper.Viper, key string) bool {
	return strings.EqualFold(strings.TrimSpace(v.GetString(key)), "true")
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// siblingBinary locates a binary next to the running executable. Used as the
// default for child process commands when no override is set.
func siblingBinary(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}

// ResolveEnv reads all runtime parameters from the environment, applying
// defaults. It never touches the config file.
func ResolveEnv() RunConfig {
	v := newViper()

	rc := RunConfig{
		Launcher: Launcher{
			ToolBin:              v.GetString("tool_bin"),
			DashboardBin:         v.GetString("dashboard_bin"),
			AgentBin:             v.GetString("agent_bin"),
			ToolStartupWait:      seconds(v, "tool_startup_wait"),
			DashboardStartupWait: seconds(v, "dashboard_startup_wait"),
			ReadinessProbe:       flagSet(v, "readiness_probe"),
			ReadinessTimeout:     seconds(v, "readiness_probe_timeout"),
			GraceTimeout:         seconds(v, "child_grace_timeout"),
		},
		Dashboard: Dashboard{
			Port:             v.GetInt("dashboard_port"),
			TestPort:         v.GetInt("test_dashboard_port"),
			Reload:           flagSet(v, "dashboard_reload"),
			TestReload:       flagSet(v, "test_dashboard_reload"),
			Workers:          v.GetInt("dashboard_workers"),
			LimitConcurrency: v.GetInt("dashboard_limit_concurrency"),
		},
		Paths: Paths{
			DataDir: v.GetString("agent_data_dir"),
			LogsDir: v.GetString("logs_dir"),
		},
		Tool: Tool{
			Port:         v.GetInt("tool_http_port"),
			BaseURL:      v.GetString("tool_base_url"),
			DatabasePath: v.GetString("tool_db_path"),
			FeeRate:      v.GetFloat64("fee_rate"),
			Quote:        v.GetString("quote_currency"),
		},
		Upbit: Upbit{
			BaseURL:        v.GetString("upbit_api_base"),
			RateLimit:      v.GetFloat64("upbit_rate_limit"),
			RateLimitBurst: v.GetInt("upbit_rate_burst"),
		},
		Agent: Agent{
			InitDate:  v.GetString("init_date"),
			EndDate:   v.GetString("end_date"),
			UseToday:  flagSet(v, "use_today"),
			StartCash: v.GetFloat64("start_cash"),
		},
		Logger: Logger{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if rc.Launcher.ToolBin == "" {
		rc.Launcher.ToolBin = siblingBinary("toolsvc")
	}
	if rc.Launcher.DashboardBin == "" {
		rc.Launcher.DashboardBin = siblingBinary("dashboard")
	}
	if rc.Launcher.AgentBin == "" {
		rc.Launcher.AgentBin = siblingBinary("agent")
	}
	if rc.Tool.BaseURL == "" {
		rc.Tool.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", rc.Tool.Port)
	}

	return rc
}

// Resolve builds the full run configuration from the command line and the
// environment. The first positional argument selects the config file path;
// the file must exist before any child process is started.
func Resolve(args []string) (RunConfig, error) {
	rc := ResolveEnv()

	rc.ConfigPath = DefaultConfigPath
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		rc.ConfigPath = args[0]
	}

	if _, err := os.Stat(rc.ConfigPath); err != nil {
		return rc, fmt.Errorf("config file not found at %s: %w", rc.ConfigPath, err)
	}

	return rc, nil
}
