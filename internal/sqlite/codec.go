package sqlite

import (
	"fmt"
	"time"

	"github.com/siltdb/silt/internal/meta"
)

// Record is a positional entity instance for mapping-driven entities:
// the identifier plus one value per mapped property. The flush
// pipeline reads and writes Values through the persister.
type Record struct {
	ID     any
	Values []any
}

// encodeColumn converts an in-memory property value into its bound
// SQL argument. Entity references flatten to the referenced record's
// identifier.
func encodeColumn(t meta.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.(type) {
	case meta.TimeType:
		tv, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("time column holds %T", v)
		}
		return tv.UTC().Format(time.RFC3339Nano), nil
	case meta.BoolType:
		bv, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("bool column holds %T", v)
		}
		if bv {
			return int64(1), nil
		}
		return int64(0), nil
	case meta.EntityType:
		if rec, ok := v.(*Record); ok {
			return rec.ID, nil
		}
		// Already an identifier value.
		return v, nil
	}
	return v, nil
}

// decodeColumn converts a scanned SQL value back into its in-memory
// representation. Entity references decode to the raw identifier; the
// session resolves them to instances on load.
func decodeColumn(t meta.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.(type) {
	case meta.StringType:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("string column scanned as %T", v)
	case meta.Int64Type:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("int64 column scanned as %T", v)
		}
		return n, nil
	case meta.BoolType:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("bool column scanned as %T", v)
		}
		return n != 0, nil
	case meta.TimeType:
		var s string
		switch sv := v.(type) {
		case string:
			s = sv
		case []byte:
			s = string(sv)
		default:
			return nil, fmt.Errorf("time column scanned as %T", v)
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("parse time column: %w", err)
		}
		return parsed, nil
	case meta.BytesType:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("bytes column scanned as %T", v)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return v, nil
}
