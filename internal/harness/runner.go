package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/entity"
	"github.com/siltdb/silt/internal/flush"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/persist"
	"github.com/siltdb/silt/internal/session"
	"github.com/siltdb/silt/internal/testutil"
)

// defaultSessionToken keeps traces byte-stable across runs.
const defaultSessionToken = "scenario-session"

// Result is the outcome of one scenario execution: the ordered trace
// of flush decisions, write events, and transaction completions, plus
// handles to the final store and cache state for assertions.
type Result struct {
	Scenario string
	Session  string

	// Trace events in execution order. Every event carries a "type"
	// key: decision, update, delete, completion, or error.
	Trace []map[string]any

	persisters map[string]*tracingPersister
	regions    map[string]*cache.MemoryRegion
	rows       map[string]*testutil.Row
}

type runner struct {
	scenario *Scenario
	sess     *session.Session
	engine   *flush.Engine

	persisters map[string]*tracingPersister
	regions    map[string]*cache.MemoryRegion
	rows       map[string]*testutil.Row

	trace []map[string]any
}

// tracingPersister records write events into the runner's trace as
// they reach the store.
type tracingPersister struct {
	*testutil.FakePersister
	r *runner
}

func (p *tracingPersister) Update(ctx context.Context, id any, values []any, dirty []int,
	hasDirtyCollection bool, previousValues []any, previousVersion any,
	instance any, lock persist.LockMode) error {

	err := p.FakePersister.Update(ctx, id, values, dirty, hasDirtyCollection,
		previousValues, previousVersion, instance, lock)

	ev := map[string]any{
		"type":             "update",
		"entity":           p.EntityName(),
		"id":               id,
		"dirty":            intsAsAny(dirty),
		"previous_version": previousVersion,
	}
	if err != nil {
		ev["error"] = err.Error()
	}
	p.r.trace = append(p.r.trace, ev)
	return err
}

func (p *tracingPersister) Delete(ctx context.Context, id any, version any, instance any) error {
	err := p.FakePersister.Delete(ctx, id, version, instance)

	ev := map[string]any{
		"type":    "delete",
		"entity":  p.EntityName(),
		"id":      id,
		"version": version,
	}
	if err != nil {
		ev["error"] = err.Error()
	}
	p.r.trace = append(p.r.trace, ev)
	return err
}

// Run executes a scenario and returns its trace and final state.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	r := &runner{
		scenario:   scenario,
		persisters: make(map[string]*tracingPersister),
		regions:    make(map[string]*cache.MemoryRegion),
		rows:       make(map[string]*testutil.Row),
	}
	if err := r.build(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		err := r.runStep(ctx, step)
		if err == nil {
			continue
		}
		if scenario.ExpectError != "" && strings.Contains(err.Error(), scenario.ExpectError) {
			r.trace = append(r.trace, map[string]any{
				"type":    "error",
				"message": err.Error(),
			})
			break
		}
		return nil, fmt.Errorf("step %d: %w", i, err)
	}

	return &Result{
		Scenario:   scenario.Name,
		Session:    r.sess.ID(),
		Trace:      r.trace,
		persisters: r.persisters,
		regions:    r.regions,
		rows:       r.rows,
	}, nil
}

func (r *runner) build() error {
	token := r.scenario.Session
	if token == "" {
		token = defaultSessionToken
	}

	var engineOpts []flush.Option
	if r.scenario.PreDeleteUpdates {
		engineOpts = append(engineOpts, flush.WithPreDeleteUpdates())
	}
	r.engine = flush.NewEngine(engineOpts...)
	r.sess = session.New(
		session.WithIDGenerator(testutil.NewFixedTokenGenerator(token)),
		session.WithEngine(r.engine),
	)

	for _, def := range r.scenario.Entities {
		fp, err := buildPersister(def)
		if err != nil {
			return fmt.Errorf("entity %q: %w", def.Name, err)
		}
		if def.Cached != "" {
			region := cache.NewMemoryRegion(def.Cached)
			fp.Region = region
			r.regions[def.Name] = region
		}
		r.persisters[def.Name] = &tracingPersister{FakePersister: fp, r: r}
	}

	// Rows are allocated before their values are filled so references
	// between them resolve regardless of declaration order.
	for _, rd := range r.scenario.Rows {
		p := r.persisters[rd.Entity]
		r.rows[rowKey(rd.Entity, rd.ID)] = &testutil.Row{
			ID:     rd.ID,
			Values: make([]any, len(p.Props)),
		}
	}

	for _, rd := range r.scenario.Rows {
		p := r.persisters[rd.Entity]
		row := r.rows[rowKey(rd.Entity, rd.ID)]
		for name, raw := range rd.Values {
			slot := slotOf(p.FakePersister, name)
			if slot < 0 {
				return fmt.Errorf("row %s sets unknown property %q", rowKey(rd.Entity, rd.ID), name)
			}
			v, err := r.convertValue(p.Props[slot].Type, raw)
			if err != nil {
				return fmt.Errorf("row %s property %q: %w", rowKey(rd.Entity, rd.ID), name, err)
			}
			row.Values[slot] = v
		}
		if p.Versioned {
			row.Version = row.Values[p.VersionSlot]
		}

		if !rd.Absent {
			p.Snapshots[rd.ID] = append([]any(nil), row.Values...)
		}

		var loaded []any
		if !rd.Unloaded {
			loaded = append([]any(nil), row.Values...)
		}
		if rd.ReadOnly {
			r.sess.LoadReadOnly(row, p, rd.ID, loaded, row.Version)
		} else {
			r.sess.Load(row, p, rd.ID, loaded, row.Version)
		}
	}
	return nil
}

func buildPersister(def EntityDef) (*testutil.FakePersister, error) {
	props := make([]meta.Property, len(def.Properties))
	deleteDirty := make(map[int]string)
	var naturalID []int
	for i, pd := range def.Properties {
		t, err := resolveType(pd.Type)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", pd.Name, err)
		}
		props[i] = meta.Property{
			Name:       pd.Name,
			Type:       t,
			Updateable: pd.Updateable,
			NaturalID:  pd.NaturalID,
			Immutable:  pd.Immutable,
		}
		if pd.NaturalID {
			naturalID = append(naturalID, i)
		}
		if len(pd.DeleteDirtyOn) > 1 {
			return nil, fmt.Errorf("property %q: at most one deleteDirtyOn entity is supported", pd.Name)
		}
		if len(pd.DeleteDirtyOn) == 1 {
			deleteDirty[i] = pd.DeleteDirtyOn[0]
		}
	}

	fp := testutil.NewFakePersister(def.Name, props)
	fp.Immutable = def.Immutable
	fp.SelectBeforeUpdate = def.SelectBeforeUpdate
	fp.NaturalIDSlots = naturalID
	fp.DeleteDirtyProps = deleteDirty

	if def.Version != "" {
		slot := -1
		for i, pd := range def.Properties {
			if pd.Name == def.Version {
				slot = i
			}
		}
		if slot < 0 {
			return nil, fmt.Errorf("version property %q is not mapped", def.Version)
		}
		fp.Versioned = true
		fp.VersionSlot = slot
		fp.VersionKind = meta.CounterVersionType{}
	}
	return fp, nil
}

func resolveType(name string) (meta.Type, error) {
	if elem, ok := strings.CutPrefix(name, "entity:"); ok {
		return meta.EntityType{AssociatedEntity: elem}, nil
	}
	if elem, ok := strings.CutPrefix(name, "collection:"); ok {
		et, err := resolveType(elem)
		if err != nil {
			return nil, err
		}
		return meta.CollectionType{ElemType: et}, nil
	}
	t, ok := meta.TypeByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	return t, nil
}

// convertValue turns a YAML scalar into the runtime value a property
// slot holds. Strings of the form "@Entity#id" resolve to the loaded
// row they name.
func (r *runner) convertValue(t meta.Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.HasPrefix(s, "@") {
		row, err := r.resolveRef(s)
		if err != nil {
			return nil, err
		}
		return row, nil
	}

	switch t.(type) {
	case meta.Int64Type:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", raw)
	case meta.CollectionType:
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", raw)
		}
		elems := make([]any, len(list))
		ct := t.(meta.CollectionType)
		for i, e := range list {
			v, err := r.convertValue(ct.ElemType, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = v
		}
		return elems, nil
	default:
		return raw, nil
	}
}

func (r *runner) resolveRef(ref string) (*testutil.Row, error) {
	body := strings.TrimPrefix(ref, "@")
	name, idStr, ok := strings.Cut(body, "#")
	if !ok {
		return nil, fmt.Errorf("malformed reference %q, want @Entity#id", ref)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed reference %q: %w", ref, err)
	}
	row, ok := r.rows[rowKey(name, id)]
	if !ok {
		return nil, fmt.Errorf("reference %q names no declared row", ref)
	}
	return row, nil
}

func (r *runner) runStep(ctx context.Context, step Step) error {
	switch {
	case step.Set != nil:
		return r.applySet(step.Set)
	case step.Append != nil:
		return r.applyAppend(step.Append)
	case step.Delete != nil:
		return r.applyDelete(step.Delete)
	case step.Flush:
		return r.flush(ctx)
	case step.Commit:
		if err := r.flush(ctx); err != nil {
			return err
		}
		return r.complete(ctx, true)
	case step.Rollback:
		return r.complete(ctx, false)
	}
	return fmt.Errorf("empty step")
}

func (r *runner) applySet(set *SetStep) error {
	p, ok := r.persisters[set.Entity]
	if !ok {
		return fmt.Errorf("set references undeclared entity %q", set.Entity)
	}
	row, ok := r.rows[rowKey(set.Entity, set.ID)]
	if !ok {
		return fmt.Errorf("set references unloaded row %s", rowKey(set.Entity, set.ID))
	}
	slot := slotOf(p.FakePersister, set.Property)
	if slot < 0 {
		return fmt.Errorf("set references unknown property %q of %s", set.Property, set.Entity)
	}
	v, err := r.convertValue(p.Props[slot].Type, set.Value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", set.Entity, set.Property, err)
	}
	row.Values[slot] = v
	return nil
}

func (r *runner) applyAppend(app *SetStep) error {
	p, ok := r.persisters[app.Entity]
	if !ok {
		return fmt.Errorf("append references undeclared entity %q", app.Entity)
	}
	row, ok := r.rows[rowKey(app.Entity, app.ID)]
	if !ok {
		return fmt.Errorf("append references unloaded row %s", rowKey(app.Entity, app.ID))
	}
	slot := slotOf(p.FakePersister, app.Property)
	if slot < 0 {
		return fmt.Errorf("append references unknown property %q of %s", app.Property, app.Entity)
	}
	ct, ok := p.Props[slot].Type.(meta.CollectionType)
	if !ok {
		return fmt.Errorf("append targets non-collection property %q of %s", app.Property, app.Entity)
	}
	v, err := r.convertValue(ct.ElemType, app.Value)
	if err != nil {
		return fmt.Errorf("append %s.%s: %w", app.Entity, app.Property, err)
	}

	switch cur := row.Values[slot].(type) {
	case *meta.Collection:
		cur.Add(v)
	case []any:
		row.Values[slot] = append(cur, v)
	case nil:
		row.Values[slot] = []any{v}
	default:
		return fmt.Errorf("append target %s.%s holds %T", app.Entity, app.Property, cur)
	}
	return nil
}

func (r *runner) applyDelete(ref *RefStep) error {
	row, ok := r.rows[rowKey(ref.Entity, ref.ID)]
	if !ok {
		return fmt.Errorf("delete references unloaded row %s", rowKey(ref.Entity, ref.ID))
	}
	return r.sess.Delete(row)
}

// flush mirrors Session.Flush but routes every decision into the
// trace before draining the queue.
func (r *runner) flush(ctx context.Context) error {
	for _, instance := range r.sess.Context().Entities() {
		entry := r.sess.Context().GetEntry(instance)
		if entry == nil || entry.Status == entity.StatusGone {
			continue
		}
		p, ok := r.persisters[entry.EntityName]
		if !ok {
			return fmt.Errorf("no persister for %s", entry.EntityName)
		}
		dec, err := r.engine.FlushEntity(ctx, r.sess, instance, p)
		if err != nil {
			return err
		}
		r.trace = append(r.trace, map[string]any{
			"type":             "decision",
			"entity":           entry.EntityName,
			"id":               entry.ID,
			"dirty":            intsAsAny(dec.DirtyProperties),
			"pre_delete":       intsAsAny(dec.PreDeleteProperties),
			"possible":         dec.DirtyCheckPossible,
			"dirty_collection": dec.HasDirtyCollection,
			"update":           dec.UpdateScheduled,
		})
	}
	return r.sess.Queue().ExecuteActions(ctx)
}

func (r *runner) complete(ctx context.Context, success bool) error {
	err := r.sess.Queue().AfterTransactionCompletion(ctx, success)
	ev := map[string]any{
		"type":    "completion",
		"success": success,
	}
	if err != nil {
		ev["error"] = err.Error()
	}
	r.trace = append(r.trace, ev)
	return err
}

func slotOf(p *testutil.FakePersister, name string) int {
	for i, prop := range p.Props {
		if prop.Name == name {
			return i
		}
	}
	return -1
}

func intsAsAny(ints []int) []any {
	out := make([]any, len(ints))
	for i, v := range ints {
		out[i] = int64(v)
	}
	return out
}
