// Package cli implements the dappcheck command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/config"
	"github.com/Dicklesworthstone/dappcheck/internal/logging"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// ErrScenariosFailed is returned by run when at least one scenario did not
// pass. main maps it to exit status 1 without printing it again.
var ErrScenariosFailed = errors.New("scenarios failed")

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config   string
	project  string
	logLevel string
	json     bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "dappcheck",
		Short: "End-to-end checks for the Ontora AI DApp",
		Long: `dappcheck drives the Ontora AI DApp through scripted user journeys.

Every scenario gets its own mock wallet and its own network interception
layer, so the governance and agent deployment flows run against canned
backend responses without a real wallet extension or API.

Examples:
  dappcheck run                          # built-in catalogue against http://localhost:3000
  dappcheck run --driver sim             # same catalogue against the in-process simulator
  dappcheck run --tags governance -p 4   # filtered, four scenarios at a time
  dappcheck serve                        # mock backend for manual testing
  dappcheck history flaky                # scenarios that flip between runs
  dappcheck report bundle -o run.zip     # report, events and artifacts in one archive`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "project config file (default .dappcheck/config.toml)")
	root.PersistentFlags().StringVarP(&g.project, "project", "C", "", "project directory (default current directory)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "machine readable output")

	root.AddCommand(
		newRunCmd(g),
		newListCmd(g),
		newServeCmd(g),
		newReportCmd(g),
		newHistoryCmd(g),
		newConfigCmd(g),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrScenariosFailed):
		return 1
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}
}

// loadConfig resolves configuration with flag overrides applied on top.
func (g *globalFlags) loadConfig(overrides map[string]any) (config.Config, error) {
	if g.logLevel != "" {
		if overrides == nil {
			overrides = map[string]any{}
		}
		overrides["output.log_level"] = g.logLevel
	}
	cfg, err := config.Load(config.LoadOptions{
		ProjectDir:    g.project,
		ConfigPath:    g.config,
		FlagOverrides: overrides,
	})
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer, prefix string) *log.Logger {
	opts := logging.DefaultOptions()
	opts.Level = cfg.Output.LogLevel
	opts.Output = w
	opts.Prefix = prefix
	return logging.New(opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func projectDir(g *globalFlags) string {
	if g.project != "" {
		return g.project
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
