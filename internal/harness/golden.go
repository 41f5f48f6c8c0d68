package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/siltdb/silt/internal/cache"
)

// CanonicalTrace serializes a result as canonical JSON: object keys
// sorted, no HTML escaping, byte-stable across runs. This is the
// payload golden files hold.
func CanonicalTrace(result *Result) ([]byte, error) {
	events := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		events[i] = map[string]any(ev)
	}
	return cache.MarshalCanonical(map[string]any{
		"scenario": result.Scenario,
		"session":  result.Session,
		"trace":    events,
	})
}

// RunWithGolden executes a scenario, compares its canonical trace
// against testdata/golden/{name}.golden, and checks the scenario's
// assertions. Golden files are regenerated with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	payload, err := CanonicalTrace(result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, payload)

	if err := result.CheckAssertions(scenario); err != nil {
		return nil, err
	}
	return result, nil
}
