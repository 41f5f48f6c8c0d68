package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/siltdb/silt/internal/meta"
)

// Entry is the serialized post-write snapshot staged for the
// second-level cache. The body is canonical JSON keyed by property
// name; lazy and collection-valued slots are omitted and flagged so
// readers know the entry is partial.
type Entry struct {
	EntityName string
	Version    any
	Data       []byte
	// Partial is set when any property was excluded from the body.
	Partial bool
}

// Disassemble serializes a state vector into a cache entry. Lazy
// properties, collection proxies, and association slots are excluded:
// collections are cached by their own regions, lazy state must not be
// forced just to fill the cache, and references resolve through the
// session on read.
func Disassemble(entityName string, props []meta.Property, values []any, version any) (*Entry, error) {
	body := make(map[string]any, len(props))
	partial := false
	for i, p := range props {
		if p.Lazy {
			partial = true
			continue
		}
		switch p.Type.(type) {
		case meta.CollectionType, meta.EntityType:
			partial = true
			continue
		}
		enc, err := encodeSlot(p.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("disassemble %s.%s: %w", entityName, p.Name, err)
		}
		body[p.Name] = enc
	}

	data, err := MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("disassemble %s: %w", entityName, err)
	}

	return &Entry{
		EntityName: entityName,
		Version:    version,
		Data:       data,
		Partial:    partial,
	}, nil
}

// Assemble deserializes an entry body back into a state vector aligned
// with props. Excluded slots come back as nil.
func Assemble(e *Entry, props []meta.Property) ([]any, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return nil, fmt.Errorf("assemble %s: %w", e.EntityName, err)
	}

	values := make([]any, len(props))
	for i, p := range props {
		raw, ok := body[p.Name]
		if !ok {
			continue
		}
		v, err := decodeSlot(p.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("assemble %s.%s: %w", e.EntityName, p.Name, err)
		}
		values[i] = v
	}
	return values, nil
}

func encodeSlot(t meta.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.(type) {
	case meta.TimeType, meta.TimestampVersionType:
		tv, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}
		return tv.UTC().Format(time.RFC3339Nano), nil
	case meta.BytesType:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte, got %T", v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return v, nil
}

func decodeSlot(t meta.Type, raw json.RawMessage) (any, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	switch t.(type) {
	case meta.StringType:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case meta.Int64Type, meta.CounterVersionType:
		var n int64
		err := json.Unmarshal(raw, &n)
		return n, err
	case meta.BoolType:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case meta.TimeType, meta.TimestampVersionType:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case meta.BytesType:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("unsupported slot type %s", t.Name())
}
