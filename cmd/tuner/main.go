// Tuner evaluates configuration rules against a context, keeps optimization
// profiles and samples host metrics.
//
// Usage:
//
//	# Evaluate the rules in ./rules
//	tuner process --context environment=test --context user=alice
//
//	# Apply set_config outcomes to the active profile
//	tuner process --context-json '{"environment":"prod"}' --apply
//
//	# Serve evaluations over NATS, with /metrics and hot reload
//	tuner serve --config tuner.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
