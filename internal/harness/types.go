// Package harness runs declarative flush scenarios: YAML files
// describing a set of mapped entities, loaded rows, and an ordered
// script of mutations, deletions, and flush/commit steps. Execution
// produces a deterministic trace of flush decisions and write events
// compared against golden files.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario; it also names the golden
	// file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Session fixes the session token so traces are byte-stable.
	// Defaults to "scenario-session".
	Session string `yaml:"session,omitempty"`

	// PreDeleteUpdates enables the pre-delete-update refinement.
	PreDeleteUpdates bool `yaml:"preDeleteUpdates,omitempty"`

	// Entities declares the entity types in play.
	Entities []EntityDef `yaml:"entities"`

	// Rows is the initial store content; every row is also loaded
	// into the session.
	Rows []RowDef `yaml:"rows"`

	// Steps is the ordered mutation script.
	Steps []Step `yaml:"steps"`

	// ExpectError makes a failing step part of the scenario: execution
	// stops at the first error whose message contains this substring
	// and the error joins the trace. Any other error still fails the
	// run.
	ExpectError string `yaml:"expectError,omitempty"`

	// Assertions validate the final store and cache state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PropertyDef declares one property of a scenario entity.
type PropertyDef struct {
	Name string `yaml:"name"`

	// Type is a type name as understood by the metadata registry,
	// "entity:Name" for a reference, or "collection:elem" for a
	// collection-valued property.
	Type string `yaml:"type"`

	Updateable bool `yaml:"updateable,omitempty"`
	NaturalID  bool `yaml:"naturalId,omitempty"`
	Immutable  bool `yaml:"immutable,omitempty"`

	// DeleteDirtyOn lists entity names whose deletion voids this
	// property's references.
	DeleteDirtyOn []string `yaml:"deleteDirtyOn,omitempty"`
}

// EntityDef declares one entity type.
type EntityDef struct {
	Name       string        `yaml:"name"`
	Properties []PropertyDef `yaml:"properties"`

	// Version names the property carrying a counter version.
	Version string `yaml:"version,omitempty"`

	// Cached names a cache region for the entity.
	Cached string `yaml:"cached,omitempty"`

	SelectBeforeUpdate bool `yaml:"selectBeforeUpdate,omitempty"`
	Immutable          bool `yaml:"immutable,omitempty"`
}

// RowDef is one row present in the store and loaded into the session.
// Values maps property names to initial values; string values of the
// form "@Entity#id" are references to other rows, and missing
// properties are nil.
type RowDef struct {
	Entity   string         `yaml:"entity"`
	ID       int64          `yaml:"id"`
	Values   map[string]any `yaml:"values"`
	ReadOnly bool           `yaml:"readOnly,omitempty"`

	// Unloaded brings the instance under management without a loaded
	// snapshot, as if it arrived from a stateless source.
	Unloaded bool `yaml:"unloaded,omitempty"`

	// Absent keeps the row out of the store, simulating a concurrent
	// deletion by another process.
	Absent bool `yaml:"absent,omitempty"`
}

// Step is one script step; exactly one field must be set.
type Step struct {
	Set      *SetStep `yaml:"set,omitempty"`
	Append   *SetStep `yaml:"append,omitempty"`
	Delete   *RefStep `yaml:"delete,omitempty"`
	Flush    bool     `yaml:"flush,omitempty"`
	Commit   bool     `yaml:"commit,omitempty"`
	Rollback bool     `yaml:"rollback,omitempty"`
}

// SetStep mutates one property of a loaded row. Value follows
// RowDef.Values conventions; absent means nil. As an append step, it
// adds Value to the collection held in Property instead of replacing
// the slot.
type SetStep struct {
	Entity   string `yaml:"entity"`
	ID       int64  `yaml:"id"`
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
}

// RefStep names a loaded row.
type RefStep struct {
	Entity string `yaml:"entity"`
	ID     int64  `yaml:"id"`
}

// Assertion validates final state after the script has run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type     string `yaml:"type"`
	Entity   string `yaml:"entity"`
	ID       int64  `yaml:"id"`
	Property string `yaml:"property,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Version  any    `yaml:"version,omitempty"`
}

// Assertion types.
const (
	// AssertRow checks a store column value.
	AssertRow = "row"
	// AssertRowAbsent checks the row was deleted from the store.
	AssertRowAbsent = "row_absent"
	// AssertCached checks a published cache entry exists, optionally
	// carrying a version.
	AssertCached = "cached"
	// AssertNotCached checks no cache entry exists for the key.
	AssertNotCached = "not_cached"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Entities) == 0 {
		return fmt.Errorf("at least one entity is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	entities := make(map[string]bool)
	for _, e := range s.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity with empty name")
		}
		if entities[e.Name] {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		if len(e.Properties) == 0 {
			return fmt.Errorf("entity %q has no properties", e.Name)
		}
		seen := make(map[string]bool)
		for _, p := range e.Properties {
			if p.Name == "" {
				return fmt.Errorf("entity %q has a property with no name", e.Name)
			}
			if seen[p.Name] {
				return fmt.Errorf("entity %q declares property %q twice", e.Name, p.Name)
			}
			seen[p.Name] = true
		}
		if e.Version != "" && !seen[e.Version] {
			return fmt.Errorf("entity %q names unmapped version property %q", e.Name, e.Version)
		}
		entities[e.Name] = true
	}

	rows := make(map[string]bool)
	for _, r := range s.Rows {
		if !entities[r.Entity] {
			return fmt.Errorf("row references undeclared entity %q", r.Entity)
		}
		key := rowKey(r.Entity, r.ID)
		if rows[key] {
			return fmt.Errorf("duplicate row %s", key)
		}
		rows[key] = true
	}

	for i, step := range s.Steps {
		n := 0
		if step.Set != nil {
			n++
		}
		if step.Append != nil {
			n++
		}
		if step.Delete != nil {
			n++
		}
		if step.Flush {
			n++
		}
		if step.Commit {
			n++
		}
		if step.Rollback {
			n++
		}
		if n != 1 {
			return fmt.Errorf("step %d must set exactly one of set/append/delete/flush/commit/rollback", i)
		}
	}
	return nil
}

func rowKey(entity string, id int64) string {
	return fmt.Sprintf("%s#%d", entity, id)
}
