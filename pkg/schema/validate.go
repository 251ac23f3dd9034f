package schema

import (
	"fmt"
	"strings"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

// Reason describes why a parameter failed validation.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonWrongType Reason = "wrong_type"
)

// Violation is one schema failure for one parameter.
type Violation struct {
	Parameter string `json:"parameter"`
	Reason    Reason `json:"reason"`
	Expected  string `json:"expected,omitempty"`
	Got       string `json:"got,omitempty"`
}

func (v Violation) String() string {
	if v.Reason == ReasonMissing {
		return fmt.Sprintf("%s: required parameter missing", v.Parameter)
	}
	return fmt.Sprintf("%s: expected %s, got %s", v.Parameter, v.Expected, v.Got)
}

// Violations is the structured result of Validate. An empty list means the
// parameters are valid.
type Violations []Violation

// OK reports whether no violations were found
func (vs Violations) OK() bool {
	return len(vs) == 0
}

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// ToError converts the violations into a validation ToolError, or nil when
// there are none.
func (vs Violations) ToError() *mcperrors.ToolError {
	switch len(vs) {
	case 0:
		return nil
	case 1:
		v := vs[0]
		if v.Reason == ReasonMissing {
			return mcperrors.MissingParameter(v.Parameter)
		}
		return mcperrors.InvalidParameterType(v.Parameter, nil, v.Expected, v.Got)
	}
	return mcperrors.Validationf("Invalid parameters: %s", vs.Error()).WithData(vs)
}

// Validate checks params against the schema. Required parameters must be
// present and non-null; any present parameter must match its declared type.
// Parameters not declared in the schema are passed through unchecked.
func Validate(s Schema, params map[string]interface{}) Violations {
	var out Violations
	for _, name := range s.Names() {
		p := s[name]
		v, present := params[name]
		if !present || v == nil {
			if p.Required {
				out = append(out, Violation{Parameter: name, Reason: ReasonMissing, Expected: p.Type.String()})
			}
			continue
		}
		if !p.Type.Matches(v) {
			out = append(out, Violation{
				Parameter: name,
				Reason:    ReasonWrongType,
				Expected:  p.Type.String(),
				Got:       TypeOf(v).String(),
			})
		}
	}
	return out
}
