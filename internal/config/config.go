// Package config implements hierarchical configuration for dappcheck.
// Precedence: defaults < user (~/.dappcheck/config.toml) < project
// (.dappcheck/config.toml) < env (DAPPCHECK_*, E2E_*) < flags.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	Target    TargetConfig    `toml:"target" mapstructure:"target"`
	Run       RunConfig       `toml:"run" mapstructure:"run"`
	Wallet    WalletConfig    `toml:"wallet" mapstructure:"wallet"`
	Selectors SelectorsConfig `toml:"selectors" mapstructure:"selectors"`
	Output    OutputConfig    `toml:"output" mapstructure:"output"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	MockAPI   MockAPIConfig   `toml:"mockapi" mapstructure:"mockapi"`
	Preflight PreflightConfig `toml:"preflight" mapstructure:"preflight"`
	Notify    NotifyConfig    `toml:"notify" mapstructure:"notify"`
}

// TargetConfig describes the application under test and how to drive it.
type TargetConfig struct {
	BaseURL    string `toml:"base_url" mapstructure:"base_url"`
	Driver     string `toml:"driver" mapstructure:"driver"` // chrome | sim
	Headless   bool   `toml:"headless" mapstructure:"headless"`
	Width      int    `toml:"window_width" mapstructure:"window_width"`
	Height     int    `toml:"window_height" mapstructure:"window_height"`
	ChromePath string `toml:"chrome_path" mapstructure:"chrome_path"`
}

// RunConfig controls scenario execution.
type RunConfig struct {
	StepTimeout    time.Duration `toml:"step_timeout" mapstructure:"step_timeout"`
	RetryInterval  time.Duration `toml:"retry_interval" mapstructure:"retry_interval"`
	Parallel       int           `toml:"parallel" mapstructure:"parallel"`
	ScenariosDir   string        `toml:"scenarios_dir" mapstructure:"scenarios_dir"`
	IncludeBuiltin bool          `toml:"include_builtin" mapstructure:"include_builtin"`
	Tags           []string      `toml:"tags" mapstructure:"tags"`
}

// WalletConfig configures the mock wallet injected into every page.
type WalletConfig struct {
	Address    string `toml:"address" mapstructure:"address"`
	SeedPhrase string `toml:"seed_phrase" mapstructure:"seed_phrase"`
	NotPhantom bool   `toml:"not_phantom" mapstructure:"not_phantom"`
}

// SelectorsConfig locates the notification channels.
type SelectorsConfig struct {
	Success    string `toml:"success" mapstructure:"success"`
	Error      string `toml:"error" mapstructure:"error"`
	ErrorClass string `toml:"error_class" mapstructure:"error_class"`
}

// OutputConfig controls logs, reports and artifacts.
type OutputConfig struct {
	LogLevel    string `toml:"log_level" mapstructure:"log_level"`
	LogDir      string `toml:"log_dir" mapstructure:"log_dir"`
	ReportPath  string `toml:"report_path" mapstructure:"report_path"`
	MetricsPath string `toml:"metrics_path" mapstructure:"metrics_path"`
	EventsPath  string `toml:"events_path" mapstructure:"events_path"`
	// Redact is off, warn or redact; it applies to failure artifacts.
	Redact string `toml:"redact" mapstructure:"redact"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	DatabasePath string `toml:"database_path" mapstructure:"database_path"`
	FlakyWindow  int    `toml:"flaky_window" mapstructure:"flaky_window"`
}

// MockAPIConfig configures `dappcheck serve`.
type MockAPIConfig struct {
	Addr string `toml:"addr" mapstructure:"addr"`
}

// PreflightConfig controls the reachability check run before scenarios.
type PreflightConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Attempts int           `toml:"attempts" mapstructure:"attempts"`
	Delay    time.Duration `toml:"delay" mapstructure:"delay"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// NotifyConfig sends a message when a run finishes.
type NotifyConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// On is "failure" or "always".
	On              string `toml:"on" mapstructure:"on"`
	WebhookURL      string `toml:"webhook_url" mapstructure:"webhook_url"`
	WebhookTemplate string `toml:"webhook_template" mapstructure:"webhook_template"`
	LogPath         string `toml:"log_path" mapstructure:"log_path"`
}
