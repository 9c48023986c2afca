package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/history"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query past runs",
	}
	cmd.AddCommand(newHistoryRunsCmd(g), newHistoryFlakyCmd(g), newHistoryPruneCmd(g))
	return cmd
}

func openHistory(g *globalFlags) (*history.Store, int, error) {
	cfg, err := g.loadConfig(nil)
	if err != nil {
		return nil, 0, err
	}
	store, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return nil, 0, err
	}
	return store, cfg.History.FlakyWindow, nil
}

func newHistoryRunsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openHistory(g)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tDRIVER\tPASSED\tFAILED\tSKIPPED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.Driver, r.Passed, r.Failed, r.Skipped, r.Duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	return cmd
}

func newHistoryFlakyCmd(g *globalFlags) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "flaky",
		Short: "Scenarios that both passed and failed recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, defWindow, err := openHistory(g)
			if err != nil {
				return err
			}
			defer store.Close()
			if !cmd.Flags().Changed("window") {
				window = defWindow
			}

			flakes, err := store.Flaky(cmd.Context(), window)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), flakes)
			}
			if len(flakes) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No flaky scenarios in the last %d runs.\n", window)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCENARIO\tRUNS\tPASSED\tFAILED\tFLIP RATE\tFAILURE KINDS")
			for _, f := range flakes {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.0f%%\t%s\n", f.Scenario, f.Runs, f.Passed, f.Failed,
					f.FlipRate()*100, formatKinds(f.Kinds))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "number of recent runs to inspect (default history.flaky_window)")
	return cmd
}

func newHistoryPruneCmd(g *globalFlags) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openHistory(g)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs.\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 100, "runs to keep")
	return cmd
}

func formatKinds[K ~string](kinds map[K]int) string {
	if len(kinds) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(kinds))
	for k, n := range kinds {
		name := string(k)
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
