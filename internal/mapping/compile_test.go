package mapping

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siltdb/silt/internal/meta"
)

func TestCompileEntityBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Product: {
			table: "products"

			id: { column: "id", type: "int64" }

			properties: [
				{ name: "sku", type: "string", naturalId: true, immutable: true },
				{ name: "name", type: "string", updateable: true },
				{ name: "supplier", type: "entity:Supplier", updateable: true, deleteDirtyOn: ["Supplier"] },
				{ name: "tags", type: "collection:string", lazy: true },
				{ name: "version", type: "int64", updateable: true },
			]

			version: { property: "version", kind: "counter" }
			cache: { region: "product" }
		}
	`)

	require.NoError(t, v.Err())
	entityVal := v.LookupPath(cue.ParsePath("entity.Product"))

	m, err := CompileEntity(entityVal)
	require.NoError(t, err)

	assert.Equal(t, "Product", m.Name)
	assert.Equal(t, "products", m.Table)
	assert.Equal(t, "id", m.ID.Column)
	assert.Equal(t, meta.Int64Type{}, m.ID.Type)
	require.Len(t, m.Properties, 5)

	sku := m.Properties[0]
	assert.True(t, sku.NaturalID)
	assert.True(t, sku.Immutable)
	assert.False(t, sku.Updateable)

	supplier := m.Properties[2]
	assert.Equal(t, meta.EntityType{AssociatedEntity: "Supplier"}, supplier.Type)
	assert.Equal(t, []string{"Supplier"}, supplier.DeleteDirtyOn)

	tags := m.Properties[3]
	assert.Equal(t, meta.CollectionType{ElemType: meta.StringType{}}, tags.Type)
	assert.True(t, tags.Lazy)
	assert.Empty(t, tags.Column, "collections have no column of their own")

	require.NotNil(t, m.Version)
	assert.Equal(t, "version", m.Version.Property)
	assert.Equal(t, 4, m.VersionSlot())
	assert.False(t, m.Version.Generated)

	require.NotNil(t, m.Cache)
	assert.Equal(t, "product", m.Cache.Region)
	assert.False(t, m.Cache.Invalidate)

	assert.True(t, m.Mutable)
	assert.False(t, m.SelectBeforeUpdate)
	assert.Equal(t, []int{0}, m.NaturalIDSlots())
}

func TestCompileEntityDefaults(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: AuditRecord: {
			table: "audit"
			id: { column: "id", type: "string" }
			mutable: false
			selectBeforeUpdate: true
			properties: [
				{ name: "payload", type: "bytes" },
			]
		}
	`)

	require.NoError(t, v.Err())
	m, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.AuditRecord")))
	require.NoError(t, err)

	assert.False(t, m.Mutable)
	assert.True(t, m.SelectBeforeUpdate)
	assert.Nil(t, m.Version)
	assert.Nil(t, m.Cache)
	assert.Equal(t, -1, m.VersionSlot())
	assert.Equal(t, "payload", m.Properties[0].Column, "column defaults to the property name")
}

func TestCompileEntityMissingTable(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Bad: {
			id: { column: "id", type: "int64" }
			properties: [{ name: "x", type: "string" }]
		}
	`)

	_, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Bad")))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table", ce.Field)
}

func TestCompileEntityUnknownType(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Bad: {
			table: "bad"
			id: { column: "id", type: "int64" }
			properties: [{ name: "x", type: "float64" }]
		}
	`)

	_, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Bad")))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "unknown type")
}

func TestCompileEntityNoProperties(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Bad: {
			table: "bad"
			id: { column: "id", type: "int64" }
		}
	`)

	_, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Bad")))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "properties", ce.Field)
}

func TestCompileEntityUnknownVersionKind(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		entity: Bad: {
			table: "bad"
			id: { column: "id", type: "int64" }
			properties: [{ name: "v", type: "int64", updateable: true }]
			version: { property: "v", kind: "vector-clock" }
		}
	`)

	_, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Bad")))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "version.kind", ce.Field)
}
