package mapping

import (
	"fmt"
	"strings"

	"github.com/siltdb/silt/internal/meta"
)

// Validation error codes (E200-E299)
const (
	ErrTableEmpty          = "E200" // table name required
	ErrNoProperties        = "E201" // at least one property required
	ErrDuplicateProperty   = "E202" // duplicate property name
	ErrVersionUnmapped     = "E203" // version references no mapped property
	ErrVersionNotUpdatable = "E204" // version property must be updateable
	ErrVersionBadType      = "E205" // version property type mismatch
	ErrNaturalIDMutable    = "E206" // natural id should be immutable
	ErrImmutableEntity     = "E207" // immutable entity with updateable props
	ErrCacheRegionEmpty    = "E208" // cache block without region name
	ErrColumnMissing       = "E209" // scalar property without column
)

// ValidationError represents a mapping validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled mapping against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(m *EntityMapping) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(m.Table) == "" {
		errs = append(errs, ValidationError{
			Field:   "table",
			Message: "table name is required and must be non-empty",
			Code:    ErrTableEmpty,
		})
	}

	if len(m.Properties) == 0 {
		errs = append(errs, ValidationError{
			Field:   "properties",
			Message: "at least one property is required",
			Code:    ErrNoProperties,
		})
	}

	seen := make(map[string]bool)
	for _, p := range m.Properties {
		if seen[p.Name] {
			errs = append(errs, ValidationError{
				Field:   "properties." + p.Name,
				Message: "duplicate property name",
				Code:    ErrDuplicateProperty,
			})
		}
		seen[p.Name] = true

		if _, isCol := p.Type.(meta.CollectionType); !isCol && p.Column == "" {
			errs = append(errs, ValidationError{
				Field:   "properties." + p.Name,
				Message: "scalar property needs a column",
				Code:    ErrColumnMissing,
			})
		}

		if p.NaturalID && !p.Immutable {
			errs = append(errs, ValidationError{
				Field:   "properties." + p.Name,
				Message: "natural identifier properties must be declared immutable",
				Code:    ErrNaturalIDMutable,
			})
		}
	}

	if m.Version != nil {
		errs = append(errs, validateVersion(m)...)
	}

	if !m.Mutable {
		for _, p := range m.Properties {
			if p.Updateable {
				errs = append(errs, ValidationError{
					Field:   "properties." + p.Name,
					Message: "immutable entity cannot carry updateable properties",
					Code:    ErrImmutableEntity,
				})
			}
		}
	}

	if m.Cache != nil && strings.TrimSpace(m.Cache.Region) == "" {
		errs = append(errs, ValidationError{
			Field:   "cache.region",
			Message: "cache region name is required",
			Code:    ErrCacheRegionEmpty,
		})
	}

	return errs
}

func validateVersion(m *EntityMapping) []ValidationError {
	var errs []ValidationError

	slot := m.VersionSlot()
	if slot < 0 {
		return append(errs, ValidationError{
			Field:   "version.property",
			Message: fmt.Sprintf("%q is not a mapped property", m.Version.Property),
			Code:    ErrVersionUnmapped,
		})
	}

	p := m.Properties[slot]
	if !p.Updateable {
		errs = append(errs, ValidationError{
			Field:   "version.property",
			Message: "version property must be updateable",
			Code:    ErrVersionNotUpdatable,
		})
	}

	// The slot type must agree with the version kind: counters are
	// int64, timestamps are time.
	want := "int64"
	if _, isTS := m.Version.Kind.(meta.TimestampVersionType); isTS {
		want = "time"
	}
	if p.Type.Name() != want {
		errs = append(errs, ValidationError{
			Field:   "version.property",
			Message: fmt.Sprintf("version property type is %s, want %s", p.Type.Name(), want),
			Code:    ErrVersionBadType,
		})
	}

	return errs
}
