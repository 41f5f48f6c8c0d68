package mapping

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/siltdb/silt/internal/meta"
)

// CompileEntity parses a CUE value into an EntityMapping.
// Uses the CUE SDK's Go API directly.
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Product: { ... }`)
//	m, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Product")))
func CompileEntity(v cue.Value) (*EntityMapping, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &EntityMapping{Mutable: true}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Name = labels[len(labels)-1].String()
	}

	table, err := requiredString(v, "table")
	if err != nil {
		return nil, err
	}
	m.Table = table

	m.ID, err = parseID(v)
	if err != nil {
		return nil, err
	}

	m.Properties, err = parseProperties(v)
	if err != nil {
		return nil, err
	}
	if len(m.Properties) == 0 {
		return nil, &CompileError{
			Field:   "properties",
			Message: "at least one property is required",
			Pos:     v.Pos(),
		}
	}

	if mv := v.LookupPath(cue.ParsePath("mutable")); mv.Exists() {
		m.Mutable, err = mv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	if sv := v.LookupPath(cue.ParsePath("selectBeforeUpdate")); sv.Exists() {
		m.SelectBeforeUpdate, err = sv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}

	m.Version, err = parseVersion(v)
	if err != nil {
		return nil, err
	}
	m.Cache, err = parseCache(v)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func parseID(v cue.Value) (IDMapping, error) {
	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return IDMapping{}, &CompileError{
			Field:   "id",
			Message: "id is required",
			Pos:     v.Pos(),
		}
	}

	column, err := requiredString(idVal, "column")
	if err != nil {
		return IDMapping{}, err
	}
	typeName, err := requiredString(idVal, "type")
	if err != nil {
		return IDMapping{}, err
	}
	t, err := parseType(typeName)
	if err != nil {
		return IDMapping{}, &CompileError{
			Field:   "id.type",
			Message: err.Error(),
			Pos:     idVal.Pos(),
		}
	}
	return IDMapping{Column: column, Type: t}, nil
}

func parseProperties(v cue.Value) ([]PropertyMapping, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, nil
	}

	iter, err := propsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var props []PropertyMapping
	for iter.Next() {
		p, err := parseProperty(iter.Value())
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, nil
}

func parseProperty(v cue.Value) (PropertyMapping, error) {
	var p PropertyMapping

	name, err := requiredString(v, "name")
	if err != nil {
		return p, err
	}
	p.Name = name

	typeName, err := requiredString(v, "type")
	if err != nil {
		return p, err
	}
	p.Type, err = parseType(typeName)
	if err != nil {
		return p, &CompileError{
			Field:   fmt.Sprintf("properties.%s.type", name),
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}

	// Column defaults to the property name; collections have no
	// column of their own.
	p.Column = name
	if cv := v.LookupPath(cue.ParsePath("column")); cv.Exists() {
		p.Column, err = cv.String()
		if err != nil {
			return p, formatCUEError(err)
		}
	}
	if _, isCol := p.Type.(meta.CollectionType); isCol {
		p.Column = ""
	}

	for _, flag := range []struct {
		path string
		dst  *bool
	}{
		{"updateable", &p.Updateable},
		{"naturalId", &p.NaturalID},
		{"immutable", &p.Immutable},
		{"lazy", &p.Lazy},
	} {
		fv := v.LookupPath(cue.ParsePath(flag.path))
		if !fv.Exists() {
			continue
		}
		*flag.dst, err = fv.Bool()
		if err != nil {
			return p, formatCUEError(err)
		}
	}

	if dv := v.LookupPath(cue.ParsePath("deleteDirtyOn")); dv.Exists() {
		iter, err := dv.List()
		if err != nil {
			return p, formatCUEError(err)
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return p, formatCUEError(err)
			}
			p.DeleteDirtyOn = append(p.DeleteDirtyOn, name)
		}
	}

	return p, nil
}

func parseVersion(v cue.Value) (*VersionMapping, error) {
	verVal := v.LookupPath(cue.ParsePath("version"))
	if !verVal.Exists() {
		return nil, nil
	}

	property, err := requiredString(verVal, "property")
	if err != nil {
		return nil, err
	}

	kindName := "counter"
	if kv := verVal.LookupPath(cue.ParsePath("kind")); kv.Exists() {
		kindName, err = kv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	kind, ok := meta.VersionTypeByName(kindName)
	if !ok {
		return nil, &CompileError{
			Field:   "version.kind",
			Message: fmt.Sprintf("unknown version kind %q", kindName),
			Pos:     verVal.Pos(),
		}
	}

	ver := &VersionMapping{Property: property, Kind: kind}
	if gv := verVal.LookupPath(cue.ParsePath("generated")); gv.Exists() {
		ver.Generated, err = gv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	return ver, nil
}

func parseCache(v cue.Value) (*CacheMapping, error) {
	cacheVal := v.LookupPath(cue.ParsePath("cache"))
	if !cacheVal.Exists() {
		return nil, nil
	}

	region, err := requiredString(cacheVal, "region")
	if err != nil {
		return nil, err
	}

	c := &CacheMapping{Region: region}
	if iv := cacheVal.LookupPath(cue.ParsePath("invalidate")); iv.Exists() {
		c.Invalidate, err = iv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	return c, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError reports a structural problem in a CUE entity mapping.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
