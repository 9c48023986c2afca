package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Target: TargetConfig{
			BaseURL:  "http://localhost:3000",
			Driver:   "chrome",
			Headless: true,
			Width:    1920,
			Height:   1080,
		},
		Run: RunConfig{
			StepTimeout:    10 * time.Second,
			RetryInterval:  100 * time.Millisecond,
			Parallel:       1,
			ScenariosDir:   "",
			IncludeBuiltin: true,
		},
		Wallet: WalletConfig{
			Address: "mockWalletAddress123",
		},
		Selectors: SelectorsConfig{
			Success:    ".notification",
			Error:      ".notification-error",
			ErrorClass: "notification-error",
		},
		Output: OutputConfig{
			LogLevel:   "info",
			LogDir:     filepath.Join("test-results", "e2e"),
			ReportPath: "",
			Redact:     "redact",
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(".dappcheck", "history.db"),
			FlakyWindow:  20,
		},
		MockAPI: MockAPIConfig{
			Addr: "127.0.0.1:8787",
		},
		Preflight: PreflightConfig{
			Enabled:  true,
			Attempts: 5,
			Delay:    500 * time.Millisecond,
			Timeout:  3 * time.Second,
		},
		Notify: NotifyConfig{
			On: "failure",
		},
	}
}
