package contract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/weavegraph/weavegraph/errs"
)

// Schema wraps a compiled JSON Schema used to validate procedure input or
// output values. Grounded on registry/service.go's
// validatePayloadJSONAgainstSchema.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (as a decoded map, matching
// the shape produced by json.Unmarshal) into a reusable Schema. The resource
// URL is synthetic and only used to satisfy the compiler's resource cache.
func CompileSchema(name string, doc map[string]any) (*Schema, error) {
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("weavegraph://schema/%s.json", name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("contract: add schema resource %q: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("contract: compile schema %q: %w", name, err)
	}
	return &Schema{raw: doc, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema that panics on error, for use in
// package-level var initializers the way contract tables are commonly built.
func MustCompileSchema(name string, doc map[string]any) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks value (already decoded into Go types: map[string]any,
// []any, scalars) against the schema. On failure it returns an
// *errs.Error of the given kind carrying path+reason issues.
func (s *Schema) Validate(kind errs.Kind, value any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if err := s.compiled.Validate(value); err != nil {
		issues := flattenValidationError(err)
		msg := "schema validation failed"
		if len(issues) > 0 {
			msg = fmt.Sprintf("%s: %s", issues[0].Path, issues[0].Reason)
		}
		return errs.New(kind, "%s", msg).WithIssues(issues)
	}
	return nil
}

// flattenValidationError walks a jsonschema.ValidationError's cause tree and
// produces one path+reason issue per leaf failure. Non-jsonschema errors
// degrade to a single unlabeled issue.
func flattenValidationError(err error) []errs.FieldIssue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []errs.FieldIssue{{Path: "", Reason: err.Error()}}
	}
	var out []errs.FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "/"
			if len(e.InstanceLocation) > 0 {
				path = "/" + joinPath(e.InstanceLocation)
			}
			out = append(out, errs.FieldIssue{Path: path, Reason: e.Error()})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func joinPath(segs []string) string {
	b := ""
	for i, s := range segs {
		if i > 0 {
			b += "/"
		}
		b += s
	}
	return b
}

// DecodeJSON is a convenience used by executors and loaders to turn raw JSON
// bytes into the generic any tree jsonschema.Validate expects.
func DecodeJSON(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
