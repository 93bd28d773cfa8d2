package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// ValidationError reports a record that is missing a required field or
// fails a format check. It is raised before any transport happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AsValidation extracts a *ValidationError from an error chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var validate = validator.New()

// Validate checks rec against the collection schema. Structure (types,
// required columns, unknown fields) is checked with a JSON Schema compiled
// from the columns; string formats are checked per column afterwards.
func (s *Schema) Validate(rec Record) error {
	sch, err := s.jsonSchema()
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", s.Name, err)
	}

	instance := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		instance[k] = v
	}
	if err := sch.Validate(instance); err != nil {
		var jve *jsonschema.ValidationError
		if errors.As(err, &jve) {
			return s.firstViolation(jve)
		}
		return &ValidationError{Reason: err.Error()}
	}

	for _, c := range s.Columns {
		value := rec.String(c.Name)
		var tag string
		switch {
		case c.Kind == KindUUID && (c.Required || value != ""):
			tag = "required,uuid4"
		case c.Kind == KindString && c.Required:
			tag = "required,ascii"
		default:
			continue
		}
		if err := validate.Var(value, tag); err != nil {
			return &ValidationError{Field: c.Name, Reason: formatTagError(err)}
		}
	}
	return nil
}

func formatTagError(err error) string {
	var fe validator.ValidationErrors
	if errors.As(err, &fe) && len(fe) > 0 {
		switch fe[0].Tag() {
		case "required":
			return "is required"
		case "uuid4":
			return "must be a version 4 UUID"
		case "ascii":
			return "must contain only ASCII characters"
		}
		return "failed " + fe[0].Tag() + " check"
	}
	return err.Error()
}

// firstViolation maps the JSON Schema output to a single ValidationError,
// choosing the earliest column in declaration order.
func (s *Schema) firstViolation(jve *jsonschema.ValidationError) error {
	byField := map[string]string{}
	out := jve.BasicOutput()
	for _, unit := range out.Errors {
		if unit.Error == nil {
			continue
		}
		field := strings.TrimPrefix(unit.InstanceLocation, "/")
		switch k := unit.Error.Kind.(type) {
		case *kind.Required:
			field = k.Missing[0]
		case *kind.AdditionalProperties:
			sort.Strings(k.Properties)
			field = k.Properties[0]
			byField[field] = "is not a column of " + s.Name
			continue
		}
		if _, seen := byField[field]; !seen {
			byField[field] = unit.Error.String()
		}
	}
	for _, c := range s.Columns {
		if reason, ok := byField[c.Name]; ok {
			return &ValidationError{Field: c.Name, Reason: reason}
		}
	}
	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if len(fields) > 0 {
		return &ValidationError{Field: fields[0], Reason: byField[fields[0]]}
	}
	return &ValidationError{Reason: jve.Error()}
}

func (s *Schema) jsonSchema() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		s.compiled, s.err = compileColumns(s.Name, s.Columns)
	})
	return s.compiled, s.err
}

func compileColumns(name string, cols []Column) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(cols))
	required := []string{}
	for _, c := range cols {
		var p map[string]any
		switch c.Kind {
		case KindBool:
			p = map[string]any{"type": "boolean"}
		case KindInt:
			p = map[string]any{"anyOf": []any{
				map[string]any{"type": "integer", "minimum": 0},
				map[string]any{"type": "string", "pattern": "^[0-9]*$"},
			}}
		default:
			p = map[string]any{"type": "string"}
			if c.Required {
				p["minLength"] = 1
			}
		}
		props[c.Name] = p
		if c.Required {
			required = append(required, c.Name)
		}
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	url := "mem://record/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
