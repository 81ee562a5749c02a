package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moonwalker/tuner/pkg/profile"
)

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Read and change optimization profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the profiles, the active one is marked",
			Args:  cobra.NoArgs,
			RunE: a.withProfiles(func(cmd *cobra.Command, m *profile.Manager, args []string) error {
				for _, name := range m.Profiles() {
					mark := " "
					if name == m.ActiveProfile() {
						mark = "*"
					}
					p, _ := m.Profile(name)
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", mark, name, p.Description)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print a setting of the active profile, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: a.withProfiles(func(cmd *cobra.Command, m *profile.Manager, args []string) error {
				if len(args) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), m.Settings())
					return nil
				}
				v, ok := m.Get(args[0])
				if !ok {
					return fmt.Errorf("setting %q not found in %s", args[0], m.ActiveProfile())
				}
				out, err := json.Marshal(v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change a setting of the active profile and save",
			Args:  cobra.ExactArgs(2),
			RunE: a.withProfiles(func(cmd *cobra.Command, m *profile.Manager, args []string) error {
				v, err := parseValue(args[1])
				if err != nil {
					return err
				}
				if err := m.Set(args[0], v); err != nil {
					return err
				}
				return m.SaveErr(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "activate <name>",
			Short: "Make a profile the active one and save",
			Args:  cobra.ExactArgs(1),
			RunE: a.withProfiles(func(cmd *cobra.Command, m *profile.Manager, args []string) error {
				if !m.ActivateProfile(args[0]) {
					return fmt.Errorf("%w: %q", profile.ErrUnknownProfile, args[0])
				}
				return m.SaveErr(cmd.Context())
			}),
		},
	)
	return cmd
}

func (a *app) withProfiles(fn func(cmd *cobra.Command, m *profile.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		opened := stores{}
		defer opened.Close()
		m, err := a.openProfiles(cmd.Context(), opened)
		if err != nil {
			return err
		}
		return fn(cmd, m, args)
	}
}
