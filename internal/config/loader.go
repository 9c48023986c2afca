package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ProjectDir is used to locate .dappcheck/config.toml. Defaults to CWD when empty.
	ProjectDir string
	// ConfigPath overrides the project config path if provided.
	ConfigPath string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
	// SkipUser ignores ~/.dappcheck/config.toml.
	SkipUser bool
}

// Load returns the effective configuration after applying precedence:
// defaults < user < project < env < flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	projectDir := opts.ProjectDir
	if projectDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectDir = cwd
		}
	}

	if !opts.SkipUser {
		if err := mergeConfigFile(v, userConfigPath()); err != nil {
			return Config{}, err
		}
	}
	if err := mergeConfigFile(v, projectConfigPath(projectDir, opts.ConfigPath)); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(v); err != nil {
		return Config{}, err
	}
	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	for key, val := range flatten(DefaultConfig()) {
		v.SetDefault(key, val)
	}
}

// flatten maps every dot-notated key to its value in cfg.
func flatten(cfg Config) map[string]any {
	return map[string]any{
		"target.base_url":      cfg.Target.BaseURL,
		"target.driver":        cfg.Target.Driver,
		"target.headless":      cfg.Target.Headless,
		"target.window_width":  cfg.Target.Width,
		"target.window_height": cfg.Target.Height,
		"target.chrome_path":   cfg.Target.ChromePath,

		"run.step_timeout":    cfg.Run.StepTimeout,
		"run.retry_interval":  cfg.Run.RetryInterval,
		"run.parallel":        cfg.Run.Parallel,
		"run.scenarios_dir":   cfg.Run.ScenariosDir,
		"run.include_builtin": cfg.Run.IncludeBuiltin,
		"run.tags":            cfg.Run.Tags,

		"wallet.address":     cfg.Wallet.Address,
		"wallet.seed_phrase": cfg.Wallet.SeedPhrase,
		"wallet.not_phantom": cfg.Wallet.NotPhantom,

		"selectors.success":     cfg.Selectors.Success,
		"selectors.error":       cfg.Selectors.Error,
		"selectors.error_class": cfg.Selectors.ErrorClass,

		"output.log_level":    cfg.Output.LogLevel,
		"output.log_dir":      cfg.Output.LogDir,
		"output.report_path":  cfg.Output.ReportPath,
		"output.metrics_path": cfg.Output.MetricsPath,
		"output.events_path":  cfg.Output.EventsPath,
		"output.redact":       cfg.Output.Redact,

		"history.enabled":       cfg.History.Enabled,
		"history.database_path": cfg.History.DatabasePath,
		"history.flaky_window":  cfg.History.FlakyWindow,

		"mockapi.addr": cfg.MockAPI.Addr,

		"preflight.enabled":  cfg.Preflight.Enabled,
		"preflight.attempts": cfg.Preflight.Attempts,
		"preflight.delay":    cfg.Preflight.Delay,
		"preflight.timeout":  cfg.Preflight.Timeout,

		"notify.enabled":          cfg.Notify.Enabled,
		"notify.on":               cfg.Notify.On,
		"notify.webhook_url":      cfg.Notify.WebhookURL,
		"notify.webhook_template": cfg.Notify.WebhookTemplate,
		"notify.log_path":         cfg.Notify.LogPath,
	}
}

// mergeConfigFile merges the TOML config file if it exists.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads DAPPCHECK_* and the E2E_* aliases.
func applyEnvOverrides(v *viper.Viper) error {
	for _, binding := range envBindings {
		val := os.Getenv(binding.Env)
		if val == "" {
			continue
		}
		parsed, err := parseValueByKind(val, binding.Kind)
		if err != nil {
			return fmt.Errorf("env %s: %w", binding.Env, err)
		}
		v.Set(binding.Key, parsed)
	}
	return nil
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, configOverride string) (string, string) {
	return userConfigPath(), projectConfigPath(projectDir, configOverride)
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dappcheck", "config.toml")
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return filepath.Join(".dappcheck", "config.toml")
	}
	return filepath.Join(projectDir, ".dappcheck", "config.toml")
}

// ParseValue parses a raw string into the expected type for a given config key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported key %q", key)
	}
	return parseValueByKind(raw, kind)
}

// GetValue retrieves a dot-notated value from cfg.
func GetValue(cfg Config, key string) (any, bool) {
	val, ok := flatten(cfg)[key]
	return val, ok
}

// Keys lists every supported dot-notated key.
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	return keys
}

// WriteDefault writes the built-in configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	tree := map[string]any{}
	for key, val := range flatten(DefaultConfig()) {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		if s, ok := val.([]string); ok && len(s) == 0 {
			continue
		}
		if err := setNested(tree, key, val); err != nil {
			return err
		}
	}
	return writeTOML(path, tree)
}

// WriteValue sets a single key/value into the specified TOML config file (creating it if needed).
func WriteValue(path, key string, value any) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	existing := map[string]any{}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &existing); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	if d, ok := value.(time.Duration); ok {
		value = d.String()
	}
	if err := setNested(existing, key, value); err != nil {
		return err
	}
	return writeTOML(path, existing)
}

func writeTOML(path string, tree map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	enc.Indent = "  "
	if err := enc.Encode(tree); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func setNested(m map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return nil
		}
		next, ok := cur[p]
		if !ok {
			child := map[string]any{}
			cur[p] = child
			cur = child
			continue
		}
		childMap, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %s: %s is not a table", key, strings.Join(parts[:i+1], "."))
		}
		cur = childMap
	}
	return nil
}

// Helpers for env + parsing ---------------------------------------------------

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindDuration
	kindStringSlice
)

var keyKinds = map[string]valueKind{
	"target.base_url":      kindString,
	"target.driver":        kindString,
	"target.headless":      kindBool,
	"target.window_width":  kindInt,
	"target.window_height": kindInt,
	"target.chrome_path":   kindString,

	"run.step_timeout":    kindDuration,
	"run.retry_interval":  kindDuration,
	"run.parallel":        kindInt,
	"run.scenarios_dir":   kindString,
	"run.include_builtin": kindBool,
	"run.tags":            kindStringSlice,

	"wallet.address":     kindString,
	"wallet.seed_phrase": kindString,
	"wallet.not_phantom": kindBool,

	"selectors.success":     kindString,
	"selectors.error":       kindString,
	"selectors.error_class": kindString,

	"output.log_level":    kindString,
	"output.log_dir":      kindString,
	"output.report_path":  kindString,
	"output.metrics_path": kindString,
	"output.events_path":  kindString,
	"output.redact":       kindString,

	"history.enabled":       kindBool,
	"history.database_path": kindString,
	"history.flaky_window":  kindInt,

	"mockapi.addr": kindString,

	"preflight.enabled":  kindBool,
	"preflight.attempts": kindInt,
	"preflight.delay":    kindDuration,
	"preflight.timeout":  kindDuration,

	"notify.enabled":          kindBool,
	"notify.on":               kindString,
	"notify.webhook_url":      kindString,
	"notify.webhook_template": kindString,
	"notify.log_path":         kindString,
}

// envBindings maps environment variables to config keys. The E2E_* names
// are kept for CI pipelines that already export them.
var envBindings = []struct {
	Env  string
	Key  string
	Kind valueKind
}{
	{"E2E_WEB_URL", "target.base_url", kindString},
	{"E2E_HEADLESS", "target.headless", kindBool},
	{"E2E_LOG_DIR", "output.log_dir", kindString},

	{"DAPPCHECK_BASE_URL", "target.base_url", kindString},
	{"DAPPCHECK_DRIVER", "target.driver", kindString},
	{"DAPPCHECK_HEADLESS", "target.headless", kindBool},
	{"DAPPCHECK_CHROME_PATH", "target.chrome_path", kindString},

	{"DAPPCHECK_STEP_TIMEOUT", "run.step_timeout", kindDuration},
	{"DAPPCHECK_PARALLEL", "run.parallel", kindInt},
	{"DAPPCHECK_SCENARIOS_DIR", "run.scenarios_dir", kindString},
	{"DAPPCHECK_TAGS", "run.tags", kindStringSlice},

	{"DAPPCHECK_WALLET_ADDRESS", "wallet.address", kindString},
	{"DAPPCHECK_WALLET_SEED", "wallet.seed_phrase", kindString},

	{"DAPPCHECK_LOG_DIR", "output.log_dir", kindString},
	{"DAPPCHECK_REPORT", "output.report_path", kindString},
	{"DAPPCHECK_METRICS", "output.metrics_path", kindString},

	{"DAPPCHECK_HISTORY", "history.enabled", kindBool},
	{"DAPPCHECK_HISTORY_DB", "history.database_path", kindString},

	{"DAPPCHECK_MOCKAPI_ADDR", "mockapi.addr", kindString},
	{"DAPPCHECK_PREFLIGHT", "preflight.enabled", kindBool},
	{"DAPPCHECK_NOTIFY_WEBHOOK", "notify.webhook_url", kindString},
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected boolean: %w", err)
		}
		return v, nil
	case kindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		return v, nil
	case kindDuration:
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("expected duration: %w", err)
		}
		return v, nil
	case kindStringSlice:
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported value kind")
	}
}
