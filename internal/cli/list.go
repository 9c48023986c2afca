package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type scenarioInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Steps       int      `json:"steps"`
	Intercepts  []string `json:"intercepts,omitempty"`
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		tags   []string
		steps  bool
		scnDir string
	)
	cmd := &cobra.Command{
		Use:     "list [scenario...]",
		Aliases: []string{"ls"},
		Short:   "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("tags") {
				overrides["run.tags"] = tags
			}
			if cmd.Flags().Changed("scenarios") {
				overrides["run.scenarios_dir"] = scnDir
			}
			cfg, err := g.loadConfig(overrides)
			if err != nil {
				return err
			}
			scenarios, err := loadScenarios(cfg, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.json {
				infos := make([]scenarioInfo, 0, len(scenarios))
				for _, sc := range scenarios {
					info := scenarioInfo{Name: sc.Name, Description: sc.Description, Tags: sc.Tags, Steps: len(sc.Steps)}
					for _, ic := range sc.Intercepts {
						info.Intercepts = append(info.Intercepts, "@"+ic.Alias)
					}
					infos = append(infos, info)
				}
				return printJSON(out, infos)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tTAGS\tDESCRIPTION")
			for _, sc := range scenarios {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", sc.Name, len(sc.Steps), blankDash(strings.Join(sc.Tags, ",")), blankDash(sc.Description))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if steps {
				for _, sc := range scenarios {
					fmt.Fprintf(out, "\n%s\n", sc.Name)
					for i, st := range sc.Steps {
						fmt.Fprintf(out, "  %2d. %s\n", i+1, st.Describe())
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "only scenarios carrying every tag")
	cmd.Flags().BoolVar(&steps, "steps", false, "print each scenario's steps")
	cmd.Flags().StringVar(&scnDir, "scenarios", "", "directory of YAML scenarios")
	return cmd
}

func blankDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
