package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const updateScenario = `
name: cli-update
entities:
  - name: Item
    properties:
      - name: label
        type: string
        updateable: true
rows:
  - entity: Item
    id: 1
    values:
      label: a
steps:
  - set:
      entity: Item
      id: 1
      property: label
      value: b
  - commit: true
assertions:
  - type: row
    entity: Item
    id: 1
    property: label
    value: b
`

const failingAssertionScenario = `
name: cli-failing
entities:
  - name: Item
    properties:
      - name: label
        type: string
        updateable: true
rows:
  - entity: Item
    id: 1
    values:
      label: a
steps:
  - flush: true
assertions:
  - type: row_absent
    entity: Item
    id: 1
`

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_Scenario(t *testing.T) {
	path := writeScenarioFile(t, updateScenario)

	stdout, _, err := executeCommand("run", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "scenario cli-update")
	assert.Contains(t, stdout, "decision Item#1")
	assert.Contains(t, stdout, "update Item#1")
	assert.Contains(t, stdout, "completion success=true")
	assert.Contains(t, stdout, "✓ 1 assertion(s) passed")
}

func TestRun_ScenarioJSON(t *testing.T) {
	path := writeScenarioFile(t, updateScenario)

	stdout, _, err := executeCommand("--format", "json", "run", path)
	require.NoError(t, err)

	var response struct {
		Status string `json:"status"`
		Data   struct {
			Scenario string           `json:"scenario"`
			Session  string           `json:"session"`
			Trace    []map[string]any `json:"trace"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "cli-update", response.Data.Scenario)
	require.Len(t, response.Data.Trace, 3)
	assert.Equal(t, "decision", response.Data.Trace[0]["type"])
	assert.Equal(t, "update", response.Data.Trace[1]["type"])
	assert.Equal(t, "completion", response.Data.Trace[2]["type"])
}

func TestRun_FailingAssertions(t *testing.T) {
	path := writeScenarioFile(t, failingAssertionScenario)

	stdout, _, err := executeCommand("run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "still has a row")
}

func TestRun_MissingScenarioFile(t *testing.T) {
	_, _, err := executeCommand("run", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
