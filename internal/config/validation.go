package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string

	if u, err := url.Parse(cfg.Target.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "target.base_url must be an absolute http(s) url")
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, "target.base_url must use http or https")
	}
	if !oneOf(cfg.Target.Driver, "chrome", "sim") {
		errs = append(errs, "target.driver must be one of chrome|sim")
	}
	if cfg.Target.Width <= 0 || cfg.Target.Height <= 0 {
		errs = append(errs, "target.window_width and target.window_height must be > 0")
	}

	if cfg.Run.StepTimeout <= 0 {
		errs = append(errs, "run.step_timeout must be > 0")
	}
	if cfg.Run.RetryInterval <= 0 {
		errs = append(errs, "run.retry_interval must be > 0")
	}
	if cfg.Run.RetryInterval >= cfg.Run.StepTimeout && cfg.Run.StepTimeout > 0 {
		errs = append(errs, "run.retry_interval must be shorter than run.step_timeout")
	}
	if cfg.Run.Parallel < 1 {
		errs = append(errs, "run.parallel must be >= 1")
	}
	if !cfg.Run.IncludeBuiltin && cfg.Run.ScenariosDir == "" {
		errs = append(errs, "run.scenarios_dir is required when run.include_builtin is false")
	}

	if cfg.Selectors.Success == "" || cfg.Selectors.Error == "" {
		errs = append(errs, "selectors.success and selectors.error are required")
	}

	if !oneOf(strings.ToLower(cfg.Output.LogLevel), "debug", "info", "warn", "warning", "error") {
		errs = append(errs, "output.log_level must be one of debug|info|warn|error")
	}

	if !oneOf(cfg.Output.Redact, "off", "warn", "redact") {
		errs = append(errs, "output.redact must be one of off|warn|redact")
	}

	if cfg.History.Enabled && cfg.History.DatabasePath == "" {
		errs = append(errs, "history.database_path is required when history is enabled")
	}
	if cfg.History.FlakyWindow < 2 {
		errs = append(errs, "history.flaky_window must be >= 2")
	}

	if cfg.MockAPI.Addr == "" {
		errs = append(errs, "mockapi.addr is required")
	}

	if cfg.Preflight.Attempts < 1 {
		errs = append(errs, "preflight.attempts must be >= 1")
	}
	if cfg.Preflight.Delay < 0 || cfg.Preflight.Timeout < 0 {
		errs = append(errs, "preflight.delay and preflight.timeout cannot be negative")
	}

	if !oneOf(cfg.Notify.On, "failure", "always") {
		errs = append(errs, "notify.on must be one of failure|always")
	}
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL == "" && cfg.Notify.LogPath == "" {
		errs = append(errs, "notify needs notify.webhook_url or notify.log_path when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}
