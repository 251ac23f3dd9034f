// Package schema declares tool parameter schemas and validates caller-supplied
// parameters against them before any network call is made.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ParamType is the declared primitive type of a parameter.
type ParamType int

const (
	TypeAny ParamType = iota
	TypeString
	TypeNumber
	TypeBoolean
	TypeObject
	TypeArray
)

var typeNames = map[ParamType]string{
	TypeAny:     "any",
	TypeString:  "string",
	TypeNumber:  "number",
	TypeBoolean: "boolean",
	TypeObject:  "object",
	TypeArray:   "array",
}

// String returns the schema name of the type
func (t ParamType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ParamType(%d)", int(t))
}

// ParseType parses a schema type name. "integer" is accepted as number.
func ParseType(name string) (ParamType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return TypeAny, nil
	case "string":
		return TypeString, nil
	case "number", "integer":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "object":
		return TypeObject, nil
	case "array":
		return TypeArray, nil
	default:
		return TypeAny, fmt.Errorf("unknown parameter type %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler
func (t ParamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so YAML and JSON
// catalogs reject unknown type names at load time.
func (t *ParamType) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Matches reports whether a decoded value has this type.
func (t ParamType) Matches(v interface{}) bool {
	if t == TypeAny {
		return true
	}
	return TypeOf(v) == t
}

// TypeOf returns the schema type of a Go value as produced by encoding/json
// or passed directly by a Go caller.
func TypeOf(v interface{}) ParamType {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return TypeNumber
	case map[string]interface{}:
		return TypeObject
	case []interface{}:
		return TypeArray
	case nil:
		return TypeAny
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Struct:
		return TypeObject
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Ptr:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return TypeAny
		}
		return TypeOf(rv.Elem().Interface())
	default:
		return TypeAny
	}
}

// Parameter declares one named parameter of a tool.
type Parameter struct {
	Type        ParamType   `json:"type" yaml:"type"`
	Required    bool        `json:"required,omitempty" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default"`
	Description string      `json:"description,omitempty" yaml:"description"`
}

// Schema maps parameter names to their declarations.
type Schema map[string]Parameter

// Names returns the parameter names in sorted order
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check validates the schema declaration itself: defaults must match
// their declared type.
func (s Schema) Check() error {
	for _, name := range s.Names() {
		p := s[name]
		if p.Default != nil && !p.Type.Matches(p.Default) {
			return fmt.Errorf("parameter %q: default %v is not a %s", name, p.Default, p.Type)
		}
	}
	return nil
}

// ApplyDefaults returns a copy of params with declared defaults filled in
// for absent parameters. The input map is not modified.
func (s Schema) ApplyDefaults(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+len(s))
	for k, v := range params {
		out[k] = v
	}
	for name, p := range s {
		if _, ok := out[name]; !ok && p.Default != nil {
			out[name] = cloneValue(p.Default)
		}
	}
	return out
}

// Clone returns a deep copy of s. Object and array defaults are copied too.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	for name, p := range s {
		p.Default = cloneValue(p.Default)
		out[name] = p
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
