package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/reface/internal/assets"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Path    string `json:"path,omitempty"` // Single string path (e.g., "snapshots.a/b.go.hash")
	Message string `json:"message"`
}

// Result holds the validation result.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Summary joins the errors into one line for error payloads.
func (r *Result) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Path+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// registry holds pre-compiled schemas keyed by asset registry name (e.g., "contract-v1").
var registry = make(map[string]*gojsonschema.Schema)

// init populates the registry with every embedded schema asset.
func init() {
	for _, a := range assets.Registry {
		if a.Family != "schema" {
			continue
		}
		schemaBytes, ok := assets.GetSchema(a.Path)
		if !ok {
			continue
		}
		// Convert YAML to JSON for gojsonschema
		var schemaData interface{}
		if err := yaml.Unmarshal(schemaBytes, &schemaData); err != nil {
			continue
		}
		jsonBytes, err := json.Marshal(schemaData)
		if err != nil {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jsonBytes))
		if err != nil {
			continue
		}
		registry[a.Name] = schema
	}
}

// Names lists the registered schema names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate validates data (interface{}) against the named schema.
func Validate(data interface{}, schemaName string) (*Result, error) {
	schema, ok := registry[schemaName]
	if !ok {
		return nil, fmt.Errorf("schema %s not found in registry", schemaName)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	res := &Result{Valid: result.Valid()}
	if !result.Valid() {
		for _, verr := range result.Errors() {
			field := verr.Field()
			if field == "" {
				field = "root"
			}
			res.Errors = append(res.Errors, ValidationError{
				Path:    field,
				Message: verr.Description(),
			})
		}
	}

	return res, nil
}

// ValidateJSON validates raw JSON bytes against the named schema.
func ValidateJSON(raw []byte, schemaName string) (*Result, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return Validate(doc, schemaName)
}
