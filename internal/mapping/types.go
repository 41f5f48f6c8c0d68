// Package mapping compiles CUE entity mappings into the metadata the
// persistence pipeline runs on: property lists, identifier and version
// typing, cache directives, and the flags the flush engine consults.
package mapping

import (
	"fmt"
	"strings"

	"github.com/siltdb/silt/internal/meta"
)

// PropertyMapping describes one mapped property.
type PropertyMapping struct {
	Name       string
	Column     string
	Type       meta.Type
	Updateable bool
	NaturalID  bool
	Immutable  bool
	Lazy       bool

	// DeleteDirtyOn lists entity names whose deletion voids references
	// held in this property.
	DeleteDirtyOn []string
}

// IDMapping describes the identifier column.
type IDMapping struct {
	Column string
	Type   meta.Type
}

// VersionMapping describes optimistic versioning for an entity.
type VersionMapping struct {
	// Property names the mapped property carrying the version.
	Property string
	// Kind is "counter" or "timestamp".
	Kind meta.VersionType
	// Generated marks versions the store computes on write.
	Generated bool
}

// CacheMapping describes second-level caching for an entity.
type CacheMapping struct {
	Region string
	// Invalidate forces eviction instead of update staging.
	Invalidate bool
}

// EntityMapping is one compiled entity definition.
type EntityMapping struct {
	Name  string
	Table string
	ID    IDMapping

	Properties []PropertyMapping

	Version *VersionMapping
	Cache   *CacheMapping

	Mutable            bool
	SelectBeforeUpdate bool
}

// VersionSlot returns the position of the version property, or -1.
func (m *EntityMapping) VersionSlot() int {
	if m.Version == nil {
		return -1
	}
	for i, p := range m.Properties {
		if p.Name == m.Version.Property {
			return i
		}
	}
	return -1
}

// MetaProperties converts the mapping's property list into the
// comparison metadata the dirty-check primitives consume.
func (m *EntityMapping) MetaProperties() []meta.Property {
	props := make([]meta.Property, len(m.Properties))
	for i, p := range m.Properties {
		props[i] = meta.Property{
			Name:       p.Name,
			Type:       p.Type,
			Updateable: p.Updateable,
			NaturalID:  p.NaturalID,
			Immutable:  p.Immutable,
			Lazy:       p.Lazy,
		}
	}
	return props
}

// NaturalIDSlots returns the positions of natural-identifier
// properties in declaration order.
func (m *EntityMapping) NaturalIDSlots() []int {
	var slots []int
	for i, p := range m.Properties {
		if p.NaturalID {
			slots = append(slots, i)
		}
	}
	return slots
}

// parseType resolves a mapping type string. Plain names resolve
// through the builtin scalar table; "entity:Name" and
// "collection:elem" compose reference and collection types.
func parseType(s string) (meta.Type, error) {
	if name, ok := strings.CutPrefix(s, "entity:"); ok {
		if name == "" {
			return nil, fmt.Errorf("entity reference type needs a target name")
		}
		return meta.EntityType{AssociatedEntity: name}, nil
	}
	if elem, ok := strings.CutPrefix(s, "collection:"); ok {
		et, err := parseType(elem)
		if err != nil {
			return nil, fmt.Errorf("collection element: %w", err)
		}
		return meta.CollectionType{ElemType: et}, nil
	}
	t, ok := meta.TypeByName(s)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", s)
	}
	return t, nil
}
