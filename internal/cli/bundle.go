package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/bundle"
	"github.com/Dicklesworthstone/dappcheck/internal/config"
	"github.com/Dicklesworthstone/dappcheck/internal/report"
)

func newReportBundleCmd(g *globalFlags) *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Archive the last report with its event log and failure artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(nil)
			if err != nil {
				return err
			}
			f, err := bundle.ParseFormat(format)
			if err != nil {
				return err
			}
			rep, err := report.Load(reportPath(cfg))
			if err != nil {
				return err
			}
			redactor, err := newRedactor(cfg)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(cfg.Output.LogDir, fmt.Sprintf("dappcheck-%s.%s", shortID(rep.RunID), f))
			}

			gen := bundle.NewGenerator(bundle.GeneratorConfig{
				Run:        bundle.RunFromReport(rep),
				OutputPath: output,
				Format:     f,
				Version:    Version,
				Redactor:   redactor,
			})
			warnings, err := collectBundle(gen, cfg, rep)
			if err != nil {
				return err
			}
			manifest, err := gen.Generate()
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), manifest)
			}
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d files, %d redactions)\n", output, len(manifest.Entries), manifest.Redacted())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <log_dir>/dappcheck-<run>.<format>)")
	cmd.Flags().StringVar(&format, "format", "zip", "zip or tar.gz")
	return cmd
}

// collectBundle queues the report, the run's events, metrics and every
// artifact the report references. Missing optional files become warnings.
func collectBundle(gen *bundle.Generator, cfg config.Config, rep *report.Report) ([]string, error) {
	if err := gen.AddPath("report.json", reportPath(cfg)); err != nil {
		return nil, err
	}

	var warnings []string
	entries, err := report.ReadEvents(eventsPath(cfg))
	if err != nil {
		warnings = append(warnings, "events: "+err.Error())
	} else if own := report.EventsForRun(entries, rep.RunID); len(own) > 0 {
		var sb strings.Builder
		for _, e := range own {
			line, err := jsonLine(e)
			if err != nil {
				return nil, err
			}
			sb.WriteString(line)
		}
		if err := gen.AddFile(report.EventsFile, []byte(sb.String()), bundle.ContentTypeEvents, rep.Timestamp); err != nil {
			return nil, err
		}
	}

	if cfg.Output.MetricsPath != "" {
		if err := gen.AddPath("metrics.prom", cfg.Output.MetricsPath); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, "metrics: "+err.Error())
		}
	}

	seen := map[string]bool{}
	for _, res := range rep.Results {
		for _, a := range res.Artifacts {
			name := filepath.Join("artifacts", filepath.Base(a))
			if seen[name] {
				continue
			}
			seen[name] = true
			if err := gen.AddPath(name, a); err != nil {
				warnings = append(warnings, fmt.Sprintf("artifact %s: %v", a, err))
			}
		}
	}
	return warnings, nil
}

func newReportVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <bundle>",
		Short: "Check a bundle's files against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := bundle.Verify(args[0])
			if err != nil {
				return err
			}
			if g.json {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
				for _, e := range res.Errors {
					fmt.Fprintf(out, "error: %s\n", e)
				}
				if res.Valid {
					run := res.Manifest.Run
					fmt.Fprintf(out, "OK: run %s (%d passed, %d failed), %s files\n", run.ID, run.Passed, run.Failed, res.Details["file_count"])
				}
			}
			if !res.Valid {
				return fmt.Errorf("bundle %s failed verification", args[0])
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func jsonLine(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
