package harness

import (
	"fmt"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/meta"
)

// CheckAssertions validates the scenario's assertions against the
// final store and cache state. All failures are reported, not just
// the first.
func (res *Result) CheckAssertions(scenario *Scenario) error {
	var failures []string
	for i, a := range scenario.Assertions {
		if err := res.check(a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	msg := failures[0]
	for _, f := range failures[1:] {
		msg += "; " + f
	}
	return fmt.Errorf("%s", msg)
}

func (res *Result) check(a Assertion) error {
	p, ok := res.persisters[a.Entity]
	if !ok {
		return fmt.Errorf("undeclared entity %q", a.Entity)
	}

	switch a.Type {
	case AssertRow:
		snap, ok := p.Snapshots[a.ID]
		if !ok {
			return fmt.Errorf("%s has no row", rowKey(a.Entity, a.ID))
		}
		slot := slotOf(p.FakePersister, a.Property)
		if slot < 0 {
			return fmt.Errorf("%s has no property %q", a.Entity, a.Property)
		}
		want, err := res.expected(p.Props[slot].Type, a.Value)
		if err != nil {
			return err
		}
		if !p.Props[slot].Type.IsEqual(want, snap[slot]) {
			return fmt.Errorf("%s.%s = %v, want %v", rowKey(a.Entity, a.ID), a.Property, snap[slot], want)
		}
		return nil

	case AssertRowAbsent:
		if _, ok := p.Snapshots[a.ID]; ok {
			return fmt.Errorf("%s still has a row", rowKey(a.Entity, a.ID))
		}
		return nil

	case AssertCached:
		entry, err := res.cacheEntry(a)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%s is not cached", rowKey(a.Entity, a.ID))
		}
		if a.Version != nil {
			want := coerceVersion(a.Version)
			if !p.VersionKind.IsEqual(want, entry.Version) {
				return fmt.Errorf("%s cached at version %v, want %v", rowKey(a.Entity, a.ID), entry.Version, want)
			}
		}
		return nil

	case AssertNotCached:
		entry, err := res.cacheEntry(a)
		if err != nil {
			return err
		}
		if entry != nil {
			return fmt.Errorf("%s is cached, want absent", rowKey(a.Entity, a.ID))
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (res *Result) cacheEntry(a Assertion) (*cache.Entry, error) {
	region, ok := res.regions[a.Entity]
	if !ok {
		return nil, fmt.Errorf("entity %q declares no cache region", a.Entity)
	}
	entry, ok := region.Get(cache.Key{EntityName: a.Entity, ID: a.ID})
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// expected converts an assertion value the same way row values are
// converted, so references and integers compare cleanly.
func (res *Result) expected(t meta.Type, raw any) (any, error) {
	r := &runner{rows: res.rows}
	return r.convertValue(t, raw)
}

func coerceVersion(v any) any {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}
