// $ go test -v cmd/tuner/*.go

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `
rules:
  - id: dev_logging
    name: Dev logging
    priority: 10
    tags: [dev]
    conditions:
      environment: test
    actions:
      - type: log
        params:
          message: "running in {environment}"
      - type: set_config
        params:
          key: performance.max_memory_mb
          value: 2048
  - id: cleanup
    name: Cleanup
    priority: 1
    conditions:
      environment: test
    actions:
      - type: run_command
        params:
          command: "rm -rf {target}"
`

func setup(t *testing.T) (dir string, cfgFile string) {
	dir = t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "base.yaml"), []byte(testRules), 0o644))

	cfg := "log:\n  level: error\nrules:\n  dir: " + rulesDir + "\nprofiles:\n  store: " + dir + "\n"
	cfgFile = filepath.Join(dir, "tuner.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0o644))
	return dir, cfgFile
}

func run(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProcessCommand(t *testing.T) {
	_, cfgFile := setup(t)

	out, err := run(t, "process", "-c", cfgFile, "--context", "environment=test", "--context", "target=/tmp")
	require.NoError(t, err)

	report := decodeReport(t, out)
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Results, 2)
	cmd := report.Results["cleanup"].Actions["run_command"]
	assert.Equal(t, "simulated", cmd.Status)
	assert.Equal(t, "rm -rf /tmp", cmd.Command)
	assert.Equal(t, "success", report.Results["dev_logging"].Actions["log"].Status)

	// higher priority first
	assert.Less(t, strings.Index(out, `"dev_logging"`), strings.Index(out, `"cleanup"`))

	out, err = run(t, "process", "-c", cfgFile, "--context", "environment=prod")
	require.NoError(t, err)
	assert.Empty(t, decodeReport(t, out).Results)
}

type testReport struct {
	ID      string `json:"id"`
	Results map[string]struct {
		Name    string `json:"name"`
		Actions map[string]struct {
			Status  string `json:"status"`
			Command string `json:"command"`
		} `json:"actions"`
	} `json:"results"`
}

func decodeReport(t *testing.T, out string) testReport {
	var report testReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	return report
}

func TestProcessApply(t *testing.T) {
	dir, cfgFile := setup(t)

	_, err := run(t, "process", "-c", cfgFile, "--context", "environment=test", "--apply")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "optimized_config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_memory_mb: 2048")

	out, err := run(t, "profile", "get", "performance.max_memory_mb", "-c", cfgFile)
	require.NoError(t, err)
	assert.Equal(t, "2048\n", out)
}

func TestRulesCommands(t *testing.T) {
	dir, cfgFile := setup(t)

	out, err := run(t, "rules", "list", "-c", cfgFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "dev_logging"))
	assert.True(t, strings.HasPrefix(lines[2], "cleanup"))

	out, err = run(t, "rules", "tag", "dev", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "dev_logging")
	assert.NotContains(t, out, "cleanup")

	out, err = run(t, "rules", "get", "cleanup", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "id: cleanup")

	_, err = run(t, "rules", "get", "missing", "-c", cfgFile)
	assert.Error(t, err)

	out, err = run(t, "rules", "disable", "cleanup", "-c", cfgFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cleanup disabled in "))

	data, err := os.ReadFile(filepath.Join(dir, "rules", "base.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "enabled: false")

	// disabled rules are not evaluated
	out, err = run(t, "process", "-c", cfgFile, "--context", "environment=test", "--context", "target=/tmp")
	require.NoError(t, err)
	assert.NotContains(t, decodeReport(t, out).Results, "cleanup")
}

func TestProfileCommands(t *testing.T) {
	_, cfgFile := setup(t)

	out, err := run(t, "profile", "list", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "* swe1_optimized")
	assert.Contains(t, out, "  deepseek_optimized")

	_, err = run(t, "profile", "set", "model.temperature", "0.3", "-c", cfgFile)
	require.NoError(t, err)
	out, err = run(t, "profile", "get", "model.temperature", "-c", cfgFile)
	require.NoError(t, err)
	assert.Equal(t, "0.3\n", out)

	_, err = run(t, "profile", "activate", "deepseek_optimized", "-c", cfgFile)
	require.NoError(t, err)
	out, err = run(t, "profile", "list", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "* deepseek_optimized")

	_, err = run(t, "profile", "activate", "nope", "-c", cfgFile)
	assert.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	ctx, err := buildContext(`{"environment":"prod","cpu":2}`, []string{"environment=test", "debug=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "test", ctx["environment"])
	assert.Equal(t, true, ctx["debug"])
	assert.Equal(t, "", ctx["empty"])
	assert.EqualValues(t, 2, ctx["cpu"])

	_, err = buildContext("", []string{"novalue"})
	assert.Error(t, err)
	_, err = buildContext("", []string{"=x"})
	assert.Error(t, err)
	_, err = buildContext("[1]", nil)
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tcs := map[string]interface{}{
		"4":     4,
		"0.5":   0.5,
		"true":  true,
		"hello": "hello",
		"":      "",
	}
	for raw, want := range tcs {
		got, err := parseValue(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := parseValue("{a: 1}")
	assert.Error(t, err)
	_, err = parseValue("[1, 2]")
	assert.Error(t, err)
}
