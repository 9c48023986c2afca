package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(g),
		newConfigInitCmd(g),
		newConfigGetCmd(g),
		newConfigSetCmd(g),
		newConfigPathsCmd(g),
		newConfigDiffCmd(g),
	)
	return cmd
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(nil)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			keys := config.Keys()
			sort.Strings(keys)
			for _, k := range keys {
				v, _ := config.GetValue(cfg, k)
				if k == "wallet.seed_phrase" && v != "" {
					v = "********"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, v)
			}
			return nil
		},
	}
}

func projectConfig(g *globalFlags) string {
	_, project := config.ConfigPaths(projectDir(g), g.config)
	return project
}

func newConfigInitCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := projectConfig(g)
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one effective value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(nil)
			if err != nil {
				return err
			}
			v, ok := config.GetValue(cfg, args[0])
			if !ok {
				return fmt.Errorf("unknown key %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newConfigSetCmd(g *globalFlags) *cobra.Command {
	var user bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a value in the project (or user) config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := config.ParseValue(args[0], args[1])
			if err != nil {
				return err
			}
			userPath, projectPath := config.ConfigPaths(projectDir(g), g.config)
			path := projectPath
			if user {
				path = userPath
			}
			if err := config.WriteValue(path, args[0], val); err != nil {
				return err
			}
			// Reload so an invalid combination is reported right away.
			if _, err := g.loadConfig(nil); err != nil {
				return fmt.Errorf("%s written but config is now invalid: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v (%s)\n", args[0], val, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "write ~/.dappcheck/config.toml instead")
	return cmd
}

func newConfigPathsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the config files that are consulted",
		RunE: func(cmd *cobra.Command, args []string) error {
			userPath, projectPath := config.ConfigPaths(projectDir(g), g.config)
			if g.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"user": userPath, "project": projectPath})
			}
			for _, p := range []string{userPath, projectPath} {
				state := "missing"
				var probe map[string]any
				if _, err := toml.DecodeFile(p, &probe); err == nil {
					state = "ok"
				} else if !isNotExist(err) {
					state = "invalid: " + err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", filepath.Clean(p), state)
			}
			return nil
		},
	}
}

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

func newConfigDiffCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Print the values that differ from the built-in defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(nil)
			if err != nil {
				return err
			}
			diffs := config.Diff(&cfg)
			if g.json {
				return printJSON(cmd.OutOrStdout(), diffs)
			}
			if len(diffs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration matches the defaults.")
				return nil
			}
			for _, d := range diffs {
				cur := d.Current
				if d.Path == "wallet.seed_phrase" {
					cur = "********"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v (default %v)\n", d.Path, cur, d.Default)
			}
			return nil
		},
	}
}
