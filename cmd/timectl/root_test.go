package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/controller"
)

const nodeFile = `
settings:
  timeZone: Europe/Berlin
  defaultValue: {type: num, value: "100"}
rules:
  - name: away
    conditions:
      - {valueType: msg, value: mode, operator: equal, thresholdType: str, threshold: away}
    outputType: num
    outputValue: "0"
  - name: morning
    time: {type: entered, value: "10:00", operator: from}
    outputType: num
    outputValue: "40"
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeNode(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "living.yaml")
	require.NoError(t, os.WriteFile(p, []byte(nodeFile), 0o600))
	return p
}

// TestEvaluateCommand verifies the evaluation instant and message properties reach the rules
func TestEvaluateCommand(t *testing.T) {
	file := writeNode(t)

	tests := []struct {
		name  string
		args  []string
		value float64
		rule  int
	}{
		{"before window", []string{"--at", "2024-06-01T09:59:00+02:00"}, 100, 0},
		{"inside window", []string{"--at", "2024-06-01T10:01:00+02:00"}, 40, 2},
		{"utc instant in local window", []string{"--at", "2024-06-01T08:01:00Z"}, 40, 2},
		{"condition wins", []string{"--at", "2024-06-01T10:01:00+02:00", "--msg", "mode=away"}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"evaluate", "--file", file}, tt.args...)...)
			require.NoError(t, err, out)

			var res controller.Result
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Equal(t, tt.value, res.Value)
			assert.Equal(t, tt.rule, res.Diagnostics.RuleID)
			assert.Equal(t, "living", res.NodeID)
		})
	}
}

// TestEvaluateCommandErrors verifies bad flags are reported
func TestEvaluateCommandErrors(t *testing.T) {
	file := writeNode(t)

	_, err := run(t, "evaluate", "--file", file, "--at", "tomorrow")
	assert.ErrorContains(t, err, "invalid --at")

	_, err = run(t, "evaluate", "--file", file, "--msg", "novalue")
	assert.ErrorContains(t, err, "key=value")

	_, err = run(t, "evaluate", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestValidateCommand verifies a valid file is reported with its rule count
func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "--file", writeNode(t))
	require.NoError(t, err)
	assert.Contains(t, out, "node living is valid (2 rules)")
}

// TestParseMsg verifies values are typed where they parse
func TestParseMsg(t *testing.T) {
	msg, err := parseMsg([]string{"level=42.5", "on=true", "mode=away", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": 42.5, "on": true, "mode": "away", "empty": ""}, msg)
}
