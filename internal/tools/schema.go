package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// property walks nested object properties.
func property(s *jsonschema.Schema, path ...string) (*jsonschema.Schema, error) {
	cur := s
	for _, name := range path {
		if cur == nil || cur.Properties[name] == nil {
			return nil, fmt.Errorf("schema has no property %v", path)
		}
		cur = cur.Properties[name]
	}
	return cur, nil
}

// schemaEdit is one decoration applied to an inferred schema.
type schemaEdit func(*jsonschema.Schema) error

func withDefault(value any, path ...string) schemaEdit {
	return func(s *jsonschema.Schema) error {
		p, err := property(s, path...)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode default for %v: %w", path, err)
		}
		p.Default = raw
		return nil
	}
}

func withEnum(values []string, path ...string) schemaEdit {
	return func(s *jsonschema.Schema) error {
		p, err := property(s, path...)
		if err != nil {
			return err
		}
		p.Enum = make([]any, 0, len(values))
		for _, v := range values {
			p.Enum = append(p.Enum, v)
		}
		return nil
	}
}

func withDescription(desc string, path ...string) schemaEdit {
	return func(s *jsonschema.Schema) error {
		p, err := property(s, path...)
		if err != nil {
			return err
		}
		p.Description = desc
		return nil
	}
}

func edits(list ...schemaEdit) func(*jsonschema.Schema) error {
	return func(s *jsonschema.Schema) error {
		for _, e := range list {
			if err := e(s); err != nil {
				return err
			}
		}
		return nil
	}
}
