package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siltdb/silt/internal/cache"
	"github.com/siltdb/silt/internal/mapping"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/persist"
)

// Persister drives SQL for one mapped entity. It is stateless between
// calls and safe to share across sessions; the store's single-writer
// pool serializes the actual writes.
type Persister struct {
	store *Store
	m     *mapping.EntityMapping
	props []meta.Property

	region     cache.Region
	invalidate bool

	log *slog.Logger
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithRegion overrides the cache region. By default a mapping with a
// cache block gets an in-process memory region named after it.
func WithRegion(r cache.Region) PersisterOption {
	return func(p *Persister) { p.region = r }
}

// WithLogger sets the persister logger.
func WithLogger(l *slog.Logger) PersisterOption {
	return func(p *Persister) { p.log = l }
}

// NewPersister creates a persister for a compiled mapping and ensures
// its table exists.
func NewPersister(ctx context.Context, store *Store, m *mapping.EntityMapping, opts ...PersisterOption) (*Persister, error) {
	if errs := mapping.Validate(m); len(errs) > 0 {
		return nil, fmt.Errorf("mapping %s: %w", m.Name, errs[0])
	}
	if err := store.EnsureTable(ctx, m); err != nil {
		return nil, err
	}

	p := &Persister{
		store: store,
		m:     m,
		props: m.MetaProperties(),
		log:   slog.Default(),
	}
	if m.Cache != nil {
		p.region = cache.NewMemoryRegion(m.Cache.Region)
		p.invalidate = m.Cache.Invalidate
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Persister) EntityName() string     { return p.m.Name }
func (p *Persister) RootEntityName() string { return p.m.Name }

func (p *Persister) Properties() []meta.Property { return p.props }
func (p *Persister) IdentifierType() meta.Type   { return p.m.ID.Type }

func (p *Persister) CanExtractIDOutOfEntity() bool { return true }

func (p *Persister) GetIdentifier(instance any) (any, error) {
	rec, err := p.record(instance)
	if err != nil {
		return nil, err
	}
	return rec.ID, nil
}

func (p *Persister) GetPropertyValues(instance any) ([]any, error) {
	rec, err := p.record(instance)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rec.Values))
	copy(values, rec.Values)
	return values, nil
}

func (p *Persister) SetPropertyValues(instance any, values []any) error {
	rec, err := p.record(instance)
	if err != nil {
		return err
	}
	copy(rec.Values, values)
	return nil
}

func (p *Persister) GetVersion(instance any) (any, error) {
	if p.m.Version == nil {
		return nil, nil
	}
	rec, err := p.record(instance)
	if err != nil {
		return nil, err
	}
	return rec.Values[p.m.VersionSlot()], nil
}

func (p *Persister) IsVersioned() bool    { return p.m.Version != nil }
func (p *Persister) VersionProperty() int { return p.m.VersionSlot() }

func (p *Persister) VersionType() meta.VersionType {
	if p.m.Version == nil {
		return nil
	}
	return p.m.Version.Kind
}

func (p *Persister) IsVersionPropertyGenerated() bool {
	return p.m.Version != nil && p.m.Version.Generated
}

func (p *Persister) HasUpdateGeneratedProperties() bool {
	return p.IsVersionPropertyGenerated()
}

func (p *Persister) HasCache() bool      { return p.region != nil }
func (p *Persister) Cache() cache.Region { return p.region }

func (p *Persister) IsCacheInvalidationRequired() bool { return p.invalidate }

func (p *Persister) HasCollections() bool {
	for _, prop := range p.props {
		if _, ok := prop.Type.(meta.CollectionType); ok {
			return true
		}
	}
	return false
}

func (p *Persister) HasNaturalIdentifier() bool {
	return len(p.m.NaturalIDSlots()) > 0
}

func (p *Persister) NaturalIdentifierProperties() []int {
	return p.m.NaturalIDSlots()
}

func (p *Persister) IsMutable() bool { return p.m.Mutable }

func (p *Persister) IsSelectBeforeUpdateRequired() bool { return p.m.SelectBeforeUpdate }

func (p *Persister) IsDeleteDirty(prop int, entityName string) bool {
	if prop < 0 || prop >= len(p.m.Properties) {
		return false
	}
	for _, name := range p.m.Properties[prop].DeleteDirtyOn {
		if name == entityName {
			return true
		}
	}
	return false
}

func (p *Persister) FindDirty(current, previous []any) []int {
	return meta.FindDirty(p.props, current, previous)
}

func (p *Persister) FindModified(snapshot, current []any) []int {
	return meta.FindModified(p.props, snapshot, current)
}

// Update implements persist.Persister. dirty nil writes every
// updateable scalar column. When the entity is versioned and a
// previous version is supplied, the WHERE clause asserts it; zero
// affected rows then means the row vanished or moved on.
func (p *Persister) Update(ctx context.Context, id any, values []any, dirty []int,
	hasDirtyCollection bool, previousValues []any, previousVersion any,
	instance any, lock persist.LockMode) error {

	cols, args, err := p.assignments(values, dirty)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	predicate := p.m.ID.Column + " = ?"
	args = append(args, id)
	versioned := p.m.Version != nil && !p.m.Version.Generated && previousVersion != nil
	if versioned || lock == persist.LockOptimistic {
		if previousVersion != nil {
			predicate += " AND " + p.versionColumn() + " = ?"
			arg, err := encodeColumn(p.props[p.m.VersionSlot()].Type, previousVersion)
			if err != nil {
				return fmt.Errorf("encode version of %s#%v: %w", p.m.Name, id, err)
			}
			args = append(args, arg)
		}
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		p.m.Table, strings.Join(cols, ", "), predicate)

	res, err := p.store.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s#%v: %w", p.m.Name, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s#%v: %w", p.m.Name, id, err)
	}
	if affected == 0 {
		return &persist.StaleStateError{
			EntityName: p.m.Name,
			ID:         id,
			Message:    "update matched no row",
		}
	}

	p.log.Debug("row updated", "entity", p.m.Name, "id", id, "columns", len(cols))
	return nil
}

// assignments renders SET clauses for the masked columns.
func (p *Persister) assignments(values []any, dirty []int) (cols []string, args []any, err error) {
	slots := dirty
	if slots == nil {
		for i, prop := range p.props {
			if prop.Updateable {
				slots = append(slots, i)
			}
		}
	}

	for _, i := range slots {
		pm := p.m.Properties[i]
		if pm.Column == "" {
			continue
		}
		arg, err := encodeColumn(pm.Type, values[i])
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s.%s: %w", p.m.Name, pm.Name, err)
		}
		cols = append(cols, pm.Column+" = ?")
		args = append(args, arg)
	}

	// The version column rides along even when only other slots are
	// dirty.
	if slot := p.m.VersionSlot(); slot >= 0 && !p.m.Version.Generated && !containsSlot(slots, slot) {
		arg, err := encodeColumn(p.props[slot].Type, values[slot])
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s version: %w", p.m.Name, err)
		}
		cols = append(cols, p.m.Properties[slot].Column+" = ?")
		args = append(args, arg)
	}

	return cols, args, nil
}

func containsSlot(slots []int, want int) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}

func (p *Persister) versionColumn() string {
	return p.m.Properties[p.m.VersionSlot()].Column
}

// Delete implements persist.Persister.
func (p *Persister) Delete(ctx context.Context, id any, version any, instance any) error {
	predicate := p.m.ID.Column + " = ?"
	args := []any{id}
	if p.m.Version != nil && version != nil {
		arg, err := encodeColumn(p.props[p.m.VersionSlot()].Type, version)
		if err != nil {
			return fmt.Errorf("encode version of %s#%v: %w", p.m.Name, id, err)
		}
		predicate += " AND " + p.versionColumn() + " = ?"
		args = append(args, arg)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", p.m.Table, predicate)
	res, err := p.store.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete %s#%v: %w", p.m.Name, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s#%v: %w", p.m.Name, id, err)
	}
	if affected == 0 {
		return &persist.StaleStateError{
			EntityName: p.m.Name,
			ID:         id,
			Message:    "delete matched no row",
		}
	}

	p.log.Debug("row deleted", "entity", p.m.Name, "id", id)
	return nil
}

// GetDatabaseSnapshot implements persist.Persister. Collection slots
// decode to nil; entity-reference slots decode to the raw referenced
// identifier.
func (p *Persister) GetDatabaseSnapshot(ctx context.Context, id any) ([]any, error) {
	var cols []string
	var slots []int
	for i, pm := range p.m.Properties {
		if pm.Column == "" {
			continue
		}
		cols = append(cols, pm.Column)
		slots = append(slots, i)
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), p.m.Table, p.m.ID.Column)

	raw := make([]any, len(cols))
	dests := make([]any, len(cols))
	for i := range raw {
		dests[i] = &raw[i]
	}

	err := p.store.db.QueryRowContext(ctx, stmt, id).Scan(dests...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s#%v: %w", p.m.Name, id, err)
	}

	snap := make([]any, len(p.props))
	for n, i := range slots {
		snap[i], err = decodeColumn(p.props[i].Type, raw[n])
		if err != nil {
			return nil, fmt.Errorf("snapshot %s#%v: %w", p.m.Name, id, err)
		}
	}
	return snap, nil
}

// GetNaturalIdentifierSnapshot implements persist.Persister.
func (p *Persister) GetNaturalIdentifierSnapshot(ctx context.Context, id any) ([]any, error) {
	slots := p.m.NaturalIDSlots()
	if len(slots) == 0 {
		return nil, nil
	}

	snap, err := p.GetDatabaseSnapshot(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}

	vals := make([]any, len(slots))
	for i, pos := range slots {
		vals[i] = snap[pos]
	}
	return vals, nil
}

// ProcessUpdateGeneratedProperties implements persist.Persister. Only
// store-generated versions are re-read.
func (p *Persister) ProcessUpdateGeneratedProperties(ctx context.Context, id any, instance any, values []any) error {
	if !p.IsVersionPropertyGenerated() {
		return nil
	}

	slot := p.m.VersionSlot()
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		p.m.Properties[slot].Column, p.m.Table, p.m.ID.Column)

	var raw any
	if err := p.store.db.QueryRowContext(ctx, stmt, id).Scan(&raw); err != nil {
		return fmt.Errorf("re-read generated version of %s#%v: %w", p.m.Name, id, err)
	}
	v, err := decodeColumn(p.props[slot].Type, raw)
	if err != nil {
		return fmt.Errorf("re-read generated version of %s#%v: %w", p.m.Name, id, err)
	}

	values[slot] = v
	if rec, ok := instance.(*Record); ok {
		rec.Values[slot] = v
	}
	return nil
}

// Insert writes a fresh row; a primary key collision reports an
// integrity violation. Loading and saving new instances sits outside
// the flush pipeline but the harness and tools need a way in.
func (p *Persister) Insert(ctx context.Context, id any, values []any) error {
	cols := []string{p.m.ID.Column}
	marks := []string{"?"}
	args := []any{id}
	for i, pm := range p.m.Properties {
		if pm.Column == "" {
			continue
		}
		arg, err := encodeColumn(pm.Type, values[i])
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", p.m.Name, pm.Name, err)
		}
		cols = append(cols, pm.Column)
		marks = append(marks, "?")
		args = append(args, arg)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		p.m.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := p.store.db.ExecContext(ctx, stmt, args...); err != nil {
		return &persist.IntegrityError{
			EntityName: p.m.Name,
			ID:         id,
			Message:    err.Error(),
		}
	}
	return nil
}

func (p *Persister) record(instance any) (*Record, error) {
	rec, ok := instance.(*Record)
	if !ok {
		return nil, fmt.Errorf("%s instance is %T, want *sqlite.Record", p.m.Name, instance)
	}
	return rec, nil
}
