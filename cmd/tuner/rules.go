package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/rules/repo"
)

func (a *app) rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit the loaded rules",
	}
	cmd.AddCommand(
		a.rulesListCmd(),
		a.rulesGetCmd(),
		a.rulesTagCmd(),
		a.rulesToggleCmd("enable", true),
		a.rulesToggleCmd("disable", false),
		a.rulesWatchCmd(),
	)
	return cmd
}

func (a *app) rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every loaded rule in load order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opened := stores{}
			defer opened.Close()
			r, err := a.openRepo(cmd.Context(), opened)
			if err != nil {
				return err
			}
			printRules(cmd, r, r.All())
			return nil
		},
	}
}

func (a *app) rulesTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <tag>",
		Short: "List the rules carrying a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened := stores{}
			defer opened.Close()
			r, err := a.openRepo(cmd.Context(), opened)
			if err != nil {
				return err
			}
			printRules(cmd, r, r.GetByTag(args[0]))
			return nil
		},
	}
}

func printRules(cmd *cobra.Command, r *repo.Repo, rs []*rules.Rule) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tENABLED\tTAGS\tSOURCE")
	for _, rule := range rs {
		src, _ := r.Source(rule.ID)
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n", rule.ID, rule.Priority, rule.Enabled, strings.Join(rule.Tags, ","), src.String())
	}
	w.Flush()
}

func (a *app) rulesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a rule as yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened := stores{}
			defer opened.Close()
			r, err := a.openRepo(cmd.Context(), opened)
			if err != nil {
				return err
			}
			rule, ok := r.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", rules.ErrNotFound, args[0])
			}
			out, err := yaml.Marshal(rule.Record())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func (a *app) rulesToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a rule and save it to its document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened := stores{}
			defer opened.Close()
			r, err := a.openRepo(cmd.Context(), opened)
			if err != nil {
				return err
			}
			rule, ok := r.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", rules.ErrNotFound, args[0])
			}
			changed := rule.Clone()
			changed.Enabled = enabled
			if err := r.SaveErr(cmd.Context(), changed); err != nil {
				return err
			}
			src, _ := r.Source(changed.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd in %s\n", changed.ID, verb, src.String())
			return nil
		},
	}
}

func (a *app) rulesWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload the rules whenever their documents change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opened := stores{}
			defer opened.Close()
			r, err := a.openRepo(ctx, opened)
			if err != nil {
				return err
			}
			a.logger.Info("watching rules", "sources", len(r.Sources()))
			if err := r.Watch(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
}
