package entity

import (
	"context"
	"fmt"

	"github.com/siltdb/silt/internal/persist"
)

// snapshot caches one authoritative database read per key per unit of
// work. absent records a definitive miss so the row is not re-selected.
type snapshot struct {
	values []any
	absent bool
}

// Context is the persistence context of one unit of work: entry
// bookkeeping keyed by instance, plus the database snapshot cache.
//
// Not safe for concurrent use; the session owns it single-threaded.
type Context struct {
	entries   map[any]*Entry
	order     []any
	snapshots map[Key]snapshot
}

// NewContext creates an empty persistence context.
func NewContext() *Context {
	return &Context{
		entries:   make(map[any]*Entry),
		snapshots: make(map[Key]snapshot),
	}
}

// AddEntity registers an instance with its entry. Instances are keyed
// by identity, so the same pointer re-added replaces its entry.
func (c *Context) AddEntity(instance any, entry *Entry) {
	if _, exists := c.entries[instance]; !exists {
		c.order = append(c.order, instance)
	}
	c.entries[instance] = entry
}

// GetEntry returns the entry for an instance, or nil when the
// instance is not managed by this unit of work.
func (c *Context) GetEntry(instance any) *Entry {
	return c.entries[instance]
}

// RemoveEntity evicts an instance: its entry, its place in the flush
// order, and any cached snapshot for its key.
func (c *Context) RemoveEntity(instance any) {
	entry, ok := c.entries[instance]
	if !ok {
		return
	}
	delete(c.entries, instance)
	delete(c.snapshots, entry.Key())
	for i, inst := range c.order {
		if inst == instance {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Entities returns managed instances in registration order. The
// returned slice is shared; callers must not mutate it.
func (c *Context) Entities() []any {
	return c.order
}

// GetDatabaseSnapshot returns the authoritative state vector for id,
// fetching it through the persister on first use and caching the
// result (including definitive absence) for the rest of the unit of
// work. Returns nil for a missing row.
func (c *Context) GetDatabaseSnapshot(ctx context.Context, id any, p persist.Persister) ([]any, error) {
	key := Key{EntityName: p.EntityName(), ID: id}
	if cached, ok := c.snapshots[key]; ok {
		if cached.absent {
			return nil, nil
		}
		return cached.values, nil
	}

	values, err := p.GetDatabaseSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("database snapshot for %s#%v: %w", p.EntityName(), id, err)
	}
	c.snapshots[key] = snapshot{values: values, absent: values == nil}
	return values, nil
}

// GetCachedDatabaseSnapshot returns a previously fetched snapshot
// without touching the store. The second result distinguishes "never
// fetched" from "fetched and found nothing".
func (c *Context) GetCachedDatabaseSnapshot(key Key) ([]any, bool) {
	cached, ok := c.snapshots[key]
	if !ok || cached.absent {
		return nil, ok
	}
	return cached.values, true
}

// GetNaturalIDSnapshot returns the natural-identifier slots for id,
// preferring the loaded snapshot of a managed instance and falling
// back to a store query.
func (c *Context) GetNaturalIDSnapshot(ctx context.Context, id any, p persist.Persister) ([]any, error) {
	if !p.HasNaturalIdentifier() {
		return nil, nil
	}
	props := p.NaturalIdentifierProperties()
	for _, inst := range c.order {
		entry := c.entries[inst]
		if entry.EntityName == p.EntityName() && p.IdentifierType().IsEqual(entry.ID, id) && entry.LoadedState != nil {
			vals := make([]any, len(props))
			for i, pos := range props {
				vals[i] = entry.LoadedState[pos]
			}
			return vals, nil
		}
	}
	return p.GetNaturalIdentifierSnapshot(ctx, id)
}
