package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.Equal(t, scenario.Name, result.Scenario)
		})
	}
}

func TestRun_TraceStopsAtExpectedError(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "vanished-row.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, "error", result.Trace[0]["type"])
	assert.Contains(t, result.Trace[0]["message"], "row vanished")
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario := &Scenario{
		Name: "bad-set",
		Entities: []EntityDef{{
			Name: "Item",
			Properties: []PropertyDef{
				{Name: "label", Type: "string", Updateable: true},
			},
		}},
		Rows: []RowDef{{
			Entity: "Item",
			ID:     1,
			Values: map[string]any{"label": "a"},
		}},
		Steps: []Step{{
			Set: &SetStep{Entity: "Item", ID: 1, Property: "missing", Value: "b"},
		}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown property")
}

func TestRun_SessionTokenIsStable(t *testing.T) {
	scenario := &Scenario{
		Name: "token",
		Entities: []EntityDef{{
			Name: "Item",
			Properties: []PropertyDef{
				{Name: "label", Type: "string", Updateable: true},
			},
		}},
		Rows: []RowDef{{
			Entity: "Item",
			ID:     1,
			Values: map[string]any{"label": "a"},
		}},
		Steps: []Step{{Flush: true}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, defaultSessionToken, result.Session)

	scenario.Session = "pinned"
	result, err = Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, "pinned", result.Session)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
entities:
  - name: Item
    properties:
      - name: label
        type: string
steps:
  - flsuh: true
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing name",
			yaml: `
entities:
  - name: Item
    properties:
      - name: label
        type: string
steps:
  - flush: true
`,
			wantErr: "name is required",
		},
		{
			name: "no steps",
			yaml: `
name: empty
entities:
  - name: Item
    properties:
      - name: label
        type: string
`,
			wantErr: "at least one step",
		},
		{
			name: "duplicate entity",
			yaml: `
name: dup
entities:
  - name: Item
    properties:
      - name: label
        type: string
  - name: Item
    properties:
      - name: label
        type: string
steps:
  - flush: true
`,
			wantErr: `duplicate entity "Item"`,
		},
		{
			name: "unmapped version",
			yaml: `
name: badversion
entities:
  - name: Item
    properties:
      - name: label
        type: string
    version: rev
steps:
  - flush: true
`,
			wantErr: "unmapped version property",
		},
		{
			name: "row for unknown entity",
			yaml: `
name: badrow
entities:
  - name: Item
    properties:
      - name: label
        type: string
rows:
  - entity: Gone
    id: 1
steps:
  - flush: true
`,
			wantErr: "undeclared entity",
		},
		{
			name: "ambiguous step",
			yaml: `
name: badstep
entities:
  - name: Item
    properties:
      - name: label
        type: string
steps:
  - flush: true
    commit: true
`,
			wantErr: "exactly one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckAssertions_ReportsAllFailures(t *testing.T) {
	scenario := &Scenario{
		Name: "asserts",
		Entities: []EntityDef{{
			Name: "Item",
			Properties: []PropertyDef{
				{Name: "label", Type: "string", Updateable: true},
			},
		}},
		Rows: []RowDef{{
			Entity: "Item",
			ID:     1,
			Values: map[string]any{"label": "a"},
		}},
		Steps: []Step{{Flush: true}},
		Assertions: []Assertion{
			{Type: AssertRow, Entity: "Item", ID: 1, Property: "label", Value: "wrong"},
			{Type: AssertRowAbsent, Entity: "Item", ID: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	err = result.CheckAssertions(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion 0")
	assert.Contains(t, err.Error(), "assertion 1")
}

func TestCanonicalTrace_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name: "determinism",
		Entities: []EntityDef{{
			Name: "Item",
			Properties: []PropertyDef{
				{Name: "label", Type: "string", Updateable: true},
			},
		}},
		Rows: []RowDef{{
			Entity: "Item",
			ID:     1,
			Values: map[string]any{"label": "a"},
		}},
		Steps: []Step{
			{Set: &SetStep{Entity: "Item", ID: 1, Property: "label", Value: "b"}},
			{Commit: true},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := CanonicalTrace(first)
	require.NoError(t, err)
	b, err := CanonicalTrace(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
