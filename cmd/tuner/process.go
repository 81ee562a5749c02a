package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/moonwalker/tuner/pkg/rules"
)

func (a *app) processCmd() *cobra.Command {
	var (
		pairs       []string
		contextJSON string
		apply       bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Evaluate the rules against a context",
		Long: `Evaluate every enabled rule against the given context, highest priority
first, and print the report as json.

Values given with --context are read as yaml scalars, so 4 is a number and
true a bool.

Examples:
  tuner process --context environment=test --context cpu=4
  tuner process --context-json '{"environment":"prod"}' --apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := buildContext(contextJSON, pairs)
			if err != nil {
				return err
			}

			opened := stores{}
			defer opened.Close()

			_, eng, err := a.openEngine(cmd.Context(), opened)
			if err != nil {
				return err
			}
			defer eng.Close()

			report := eng.ProcessContext(cmd.Context(), ctx)

			if apply {
				profiles, err := a.openProfiles(cmd.Context(), opened)
				if err != nil {
					return err
				}
				applied := profiles.ApplyReport(report)
				if applied > 0 && !profiles.Save(cmd.Context()) {
					return fmt.Errorf("failed to save profiles")
				}
				a.logger.Info("settings applied", "profile", profiles.ActiveProfile(), "applied", applied)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pairs, "context", nil, "context value as key=value, repeatable")
	cmd.Flags().StringVar(&contextJSON, "context-json", "", "context as a json object")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply set_config outcomes to the active profile and save it")
	return cmd
}

// buildContext merges a json object with key=value pairs, pairs win.
func buildContext(contextJSON string, pairs []string) (rules.Context, error) {
	ctx, err := rules.ContextFromJSON([]byte(contextJSON))
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context pair %q, want key=value", p)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("context %q: %w", key, err)
		}
		ctx[key] = v
	}
	return ctx, nil
}

// parseValue reads a yaml scalar, an empty value stays an empty string.
func parseValue(raw string) (interface{}, error) {
	if raw == "" {
		return "", nil
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[interface{}]interface{}, []interface{}:
		return nil, fmt.Errorf("value must be a scalar: %s", raw)
	}
	return v, nil
}
