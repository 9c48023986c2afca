package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/report"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect run reports",
	}
	cmd.AddCommand(
		newReportShowCmd(g),
		newReportMetricsCmd(g),
		newReportEventsCmd(g),
		newReportBundleCmd(g),
		newReportVerifyCmd(g),
	)
	return cmd
}

// loadReport reads the report at args[0], or the configured default.
func loadReport(g *globalFlags, args []string) (*report.Report, error) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, err := g.loadConfig(nil)
		if err != nil {
			return nil, err
		}
		path = reportPath(cfg)
	}
	return report.Load(path)
}

func newReportShowCmd(g *globalFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show [report.json]",
		Short: "Render a report as markdown",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := loadReport(g, args)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			md := report.Markdown(rep)
			if raw {
				_, err := fmt.Fprint(cmd.OutOrStdout(), md)
				return err
			}
			p := report.NewPrinter(cmd.OutOrStdout())
			rendered, err := report.RenderMarkdown(md, p.Width(), p.Color())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown source instead of rendering it")
	return cmd
}

func newReportMetricsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [report.json]",
		Short: "Print a report in Prometheus exposition format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := loadReport(g, args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rep.ExportPrometheus())
			return err
		},
	}
}

func newReportEventsCmd(g *globalFlags) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "events [events.jsonl]",
		Short: "Print the executor event log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			} else {
				cfg, err := g.loadConfig(nil)
				if err != nil {
					return err
				}
				path = eventsPath(cfg)
			}
			entries, err := report.ReadEvents(path)
			if err != nil {
				return err
			}
			if runID != "" {
				entries = report.EventsForRun(entries, runID)
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				line := fmt.Sprintf("%s %-14s %s", e.Time.Format("15:04:05.000"), e.Type, e.Scenario)
				if e.Step > 0 {
					line += fmt.Sprintf(" step %d", e.Step)
				}
				if e.Status != "" {
					line += " " + string(e.Status)
				}
				if e.Kind != "" {
					line += " [" + e.Kind + "]"
				}
				if e.Detail != "" {
					line += ": " + e.Detail
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run id")
	return cmd
}
