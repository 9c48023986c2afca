package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/config"
	"github.com/Dicklesworthstone/dappcheck/internal/dappsim"
	"github.com/Dicklesworthstone/dappcheck/internal/history"
	"github.com/Dicklesworthstone/dappcheck/internal/notify"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
	"github.com/Dicklesworthstone/dappcheck/internal/ontora"
	"github.com/Dicklesworthstone/dappcheck/internal/preflight"
	"github.com/Dicklesworthstone/dappcheck/internal/redaction"
	"github.com/Dicklesworthstone/dappcheck/internal/report"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

type runFlags struct {
	driver      string
	baseURL     string
	parallel    int
	tags        []string
	names       []string
	scenarios   string
	reportPath  string
	metricsPath string
	stepTimeout time.Duration
	headed      bool
	noPreflight bool
	noHistory   bool
	watch       bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios against the DApp",
		Long: `Run the built-in Ontora catalogue plus any YAML scenarios found in the
configured scenarios directory. Positional arguments pick scenarios by name.

Exit status is 0 when every scenario passed, 1 when any failed or was
skipped, and 2 on configuration or harness setup errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.names = append(f.names, args...)
			cfg, err := g.loadConfig(f.overrides(cmd))
			if err != nil {
				return err
			}
			if f.watch {
				return watchAndRun(cmd.Context(), cfg, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			rep, err := runOnce(cmd.Context(), cfg, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if g.json {
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if !rep.OK() {
				return ErrScenariosFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.driver, "driver", "", "page driver: chrome or sim")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "DApp URL (overrides E2E_WEB_URL)")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 0, "scenarios run at once")
	cmd.Flags().StringSliceVarP(&f.tags, "tags", "t", nil, "only scenarios carrying every tag")
	cmd.Flags().StringVar(&f.scenarios, "scenarios", "", "directory of YAML scenarios")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "JSON report path (default <log_dir>/report.json)")
	cmd.Flags().StringVar(&f.metricsPath, "metrics", "", "Prometheus textfile output path")
	cmd.Flags().DurationVar(&f.stepTimeout, "step-timeout", 0, "deadline for each step")
	cmd.Flags().BoolVar(&f.headed, "headed", false, "show the browser window")
	cmd.Flags().BoolVar(&f.noPreflight, "no-preflight", false, "skip the reachability check")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record this run")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "re-run when scenario files change")
	return cmd
}

// overrides turns explicitly set flags into dot-notated config keys.
func (f *runFlags) overrides(cmd *cobra.Command) map[string]any {
	o := map[string]any{}
	changed := cmd.Flags().Changed
	if changed("driver") {
		o["target.driver"] = f.driver
	}
	if changed("base-url") {
		o["target.base_url"] = f.baseURL
	}
	if changed("parallel") {
		o["run.parallel"] = f.parallel
	}
	if changed("tags") {
		o["run.tags"] = f.tags
	}
	if changed("scenarios") {
		o["run.scenarios_dir"] = f.scenarios
	}
	if changed("report") {
		o["output.report_path"] = f.reportPath
	}
	if changed("metrics") {
		o["output.metrics_path"] = f.metricsPath
	}
	if changed("step-timeout") {
		o["run.step_timeout"] = f.stepTimeout
	}
	if changed("headed") {
		o["target.headless"] = !f.headed
	}
	if changed("no-preflight") {
		o["preflight.enabled"] = !f.noPreflight
	}
	if changed("no-history") {
		o["history.enabled"] = !f.noHistory
	}
	return o
}

// loadScenarios assembles the catalogue and any YAML scenarios, then
// applies name and tag filters.
func loadScenarios(cfg config.Config, names []string) ([]scenario.Scenario, error) {
	var all []scenario.Scenario
	if cfg.Run.IncludeBuiltin {
		all = ontora.Default()
	}
	if dir := cfg.Run.ScenariosDir; dir != "" {
		extra, err := scenario.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		all = scenario.Merge(all, extra)
	}
	selected := scenario.Filter(all, names, cfg.Run.Tags)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no scenarios match names %v and tags %v", names, cfg.Run.Tags)
	}
	if len(names) > 0 {
		var missing []string
		for _, n := range names {
			found := false
			for _, sc := range selected {
				if sc.Name == n {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("unknown scenarios: %s", strings.Join(missing, ", "))
		}
	}
	return selected, nil
}

// openDriver returns the configured driver and its cleanup.
func openDriver(cfg config.Config, logger *log.Logger) (browser.Driver, func(), error) {
	switch cfg.Target.Driver {
	case dappsim.DriverName:
		return dappsim.NewDriver(ontora.DefaultFixtures()), func() {}, nil
	case "chrome", "":
		c, err := browser.NewChrome(browser.ChromeOptions{
			Headless: cfg.Target.Headless,
			Width:    cfg.Target.Width,
			Height:   cfg.Target.Height,
			ExecPath: cfg.Target.ChromePath,
		}, logger.WithPrefix("chrome"))
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Target.Driver)
	}
}

func walletOptions(cfg config.Config) wallet.Options {
	opts := wallet.Options{
		Address:    cfg.Wallet.Address,
		NotPhantom: cfg.Wallet.NotPhantom,
	}
	if cfg.Wallet.SeedPhrase != "" {
		opts.Keypair = wallet.KeypairFromPhrase(cfg.Wallet.SeedPhrase)
	}
	return opts
}

// newRedactor treats the configured seed phrase and the secret key derived
// from it as literal secrets.
func newRedactor(cfg config.Config) (*redaction.Redactor, error) {
	rc := redaction.Config{Mode: redaction.Mode(cfg.Output.Redact)}
	if seed := cfg.Wallet.SeedPhrase; seed != "" {
		rc.Secrets = map[redaction.Category][]string{
			redaction.CategorySeedPhrase: {seed},
			redaction.CategorySecretKey:  {wallet.KeypairFromPhrase(seed).SecretKey()},
		}
	}
	return redaction.New(rc)
}

func reportPath(cfg config.Config) string {
	if cfg.Output.ReportPath != "" {
		return cfg.Output.ReportPath
	}
	return filepath.Join(cfg.Output.LogDir, "report.json")
}

func eventsPath(cfg config.Config) string {
	if cfg.Output.EventsPath != "" {
		return cfg.Output.EventsPath
	}
	return filepath.Join(cfg.Output.LogDir, report.EventsFile)
}

// runOnce executes one full run and writes its report, metrics, event log
// and history row.
func runOnce(ctx context.Context, cfg config.Config, f *runFlags, stdout, stderr io.Writer) (*report.Report, error) {
	logger := newLogger(cfg, stderr, "dappcheck")

	scenarios, err := loadScenarios(cfg, f.names)
	if err != nil {
		return nil, err
	}

	if cfg.Preflight.Enabled && cfg.Target.Driver != dappsim.DriverName {
		checker := preflight.New(preflight.Options{
			Attempts: uint(cfg.Preflight.Attempts),
			Delay:    cfg.Preflight.Delay,
			Timeout:  cfg.Preflight.Timeout,
			Logger:   logger.WithPrefix("preflight"),
		})
		if _, err := checker.Check(ctx, cfg.Target.BaseURL); err != nil {
			return nil, err
		}
	}

	driver, closeDriver, err := openDriver(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting %s driver: %w", cfg.Target.Driver, err)
	}
	defer closeDriver()

	redactor, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}

	runID := report.NewRunID()
	events, err := report.NewEventLog(eventsPath(cfg), runID)
	if err != nil {
		return nil, err
	}
	defer events.Close()

	printer := report.NewPrinter(stdout)
	started := time.Now()
	exec := scenario.NewExecutor(driver, scenario.Options{
		BaseURL:       cfg.Target.BaseURL,
		StepTimeout:   cfg.Run.StepTimeout,
		RetryInterval: cfg.Run.RetryInterval,
		Selectors: observer.Selectors{
			Success:    cfg.Selectors.Success,
			Error:      cfg.Selectors.Error,
			ErrorClass: cfg.Selectors.ErrorClass,
		},
		Wallet:      walletOptions(cfg),
		ArtifactDir: cfg.Output.LogDir,
		Logger:      logger,
		OnEvent:     events.Sink(),
		Redactor:    redactor,
	})
	logger.Info("run started", "run", runID, "driver", driver.Name(),
		"target", cfg.Target.BaseURL, "scenarios", len(scenarios), "parallel", cfg.Run.Parallel)

	runner := &scenario.Runner{Executor: exec, Parallel: cfg.Run.Parallel}
	results := runner.RunAll(ctx, scenarios)

	rep := report.Generate(results, report.Options{
		RunID:       runID,
		Driver:      driver.Name(),
		BaseURL:     cfg.Target.BaseURL,
		StartedAt:   started,
		Environment: report.CollectEnvironment(ctx, os.Getenv("CI") != ""),
	})
	printer.Summary(rep)

	path := reportPath(cfg)
	if err := rep.Save(path); err != nil {
		return nil, err
	}
	logger.Info("report written", "path", path)
	if cfg.Output.MetricsPath != "" {
		if err := rep.SavePrometheus(cfg.Output.MetricsPath); err != nil {
			return nil, err
		}
	}
	if cfg.History.Enabled {
		if err := recordHistory(ctx, cfg, rep); err != nil {
			logger.Warn("recording history", "error", err)
		}
	}
	if err := notifyRun(ctx, cfg, rep); err != nil {
		logger.Warn("sending notification", "error", err)
	}
	return rep, nil
}

func recordHistory(ctx context.Context, cfg config.Config, rep *report.Report) error {
	store, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.RecordRun(context.WithoutCancel(ctx), rep)
}

// notifyRun announces the run when notifications are enabled. Only failed
// runs are announced unless notify.on is "always".
func notifyRun(ctx context.Context, cfg config.Config, rep *report.Report) error {
	if !cfg.Notify.Enabled {
		return nil
	}
	nc := notify.Config{
		Enabled: true,
		Webhook: notify.WebhookConfig{
			Enabled:  cfg.Notify.WebhookURL != "",
			URL:      cfg.Notify.WebhookURL,
			Template: cfg.Notify.WebhookTemplate,
		},
		Log: notify.LogConfig{Enabled: cfg.Notify.LogPath != "", Path: cfg.Notify.LogPath},
	}
	if cfg.Notify.On == "failure" {
		nc.Events = []string{string(notify.EventRunFailed)}
	}
	rc := redaction.Config{Mode: redaction.Mode(cfg.Output.Redact)}
	if seed := cfg.Wallet.SeedPhrase; seed != "" {
		rc.Secrets = map[redaction.Category][]string{redaction.CategorySeedPhrase: {seed}}
	}
	n := notify.NewWithRedaction(nc, rc)
	defer n.Close()
	return n.Notify(ctx, notify.FromReport(rep))
}
