package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/resolve"
	"github.com/liamcoop/timecontrol/rules"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// TestLoadDefaults verifies defaults apply when no file exists
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, KVMemory, cfg.KV.Backend)
	assert.Equal(t, "timecontrol", cfg.NATS.Bucket)
}

// TestLoadFileAndEnv verifies file values and environment overrides
func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "timecontrol.yaml", `
server:
  port: 9000
  read_timeout: 30s
kv:
  backend: postgres
database:
  url: postgres://localhost/timecontrol
nodes:
  dir: /etc/timecontrol/nodes
`)
	t.Setenv("TIMECONTROL_SERVER_PORT", "9100")

	envFile := writeFile(t, dir, "test.env", "TIMECONTROL_LOG_LEVEL=DEBUG\n")
	t.Cleanup(func() { os.Unsetenv("TIMECONTROL_LOG_LEVEL") })

	cfg, err := Load(dir, envFile)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port, "environment beats file")
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, KVPostgres, cfg.KV.Backend)
	assert.Equal(t, "/etc/timecontrol/nodes", cfg.Nodes.Dir)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
}

// TestValidate verifies every problem is reported
func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Server.Port = 0
	cfg.KV.Backend = KVPostgres

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.url")

	cfg.Server.Port = 80
	cfg.KV.Backend = "redis"
	err = cfg.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kv.backend", verr.Field)
}

// TestLoadNodeDir verifies YAML and JSON node files are both read
func TestLoadNodeDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "living.yaml", `
settings:
  timeZone: Europe/Berlin
  location: {latitude: 52.5, longitude: 13.4}
  defaultValue: {type: num, value: "100"}
  smoothTime: 5000
  limits: {floor: 0, ceiling: 100, increment: 5}
rules:
  - name: night
    time: {type: entered, value: "06:00", operator: until}
    outputType: num
    outputValue: "0"
`)
	writeFile(t, dir, "kitchen.json", `{"id": "kitchen_blind", "settings": {"defaultValue": {"type": "num", "value": "50"}}, "rules": [{"timeType": "entered", "timeValue": "08:00", "timeOp": 1, "payloadType": "num", "payloadValue": "80"}]}`)
	writeFile(t, dir, "README.txt", "ignored")

	nodes, err := LoadNodeDir(dir)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	kitchen, living := nodes[0], nodes[1]
	assert.Equal(t, "kitchen_blind", kitchen.ID)
	assert.Equal(t, "living", living.ID, "id defaults to the file name")

	assert.Equal(t, "Europe/Berlin", living.Settings.TimeZone)
	assert.Equal(t, 52.5, living.Settings.Location.Latitude)
	assert.Equal(t, int64(5000), living.Settings.SmoothTime)
	assert.Equal(t, 5.0, living.Settings.Limits.Increment)
	assert.Equal(t, resolve.Property{Type: resolve.KindNum, Value: "100"}, living.Settings.DefaultValue)

	rs, err := rules.Normalize(kitchen.Rules)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "80", rs[0].Output.Value)
}

// TestParseNodeRejectsGarbage verifies decode errors surface
func TestParseNodeRejectsGarbage(t *testing.T) {
	_, err := ParseNode([]byte("rules: {not: [a list"))
	assert.Error(t, err)
}
