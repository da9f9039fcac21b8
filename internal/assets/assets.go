package assets

import (
	"embed"
	"io/fs"
	"path"
)

// Embedded schemas validated with gojsonschema (YAML authored, converted at load).
//
//go:embed embedded_schemas
var Schemas embed.FS

// Embedded handlebars templates and example policies.
//
//go:embed embedded_templates
var Templates embed.FS

func GetTemplatesFS() fs.FS {
	if sub, err := fs.Sub(Templates, "embedded_templates"); err == nil {
		return sub
	}
	return Templates
}

func GetSchemasFS() fs.FS {
	if sub, err := fs.Sub(Schemas, "embedded_schemas"); err == nil {
		return sub
	}
	return Schemas
}

// GetSchema returns the embedded schema bytes by path relative to embedded_schemas
// (e.g., "reface/contract-v1.yaml").
func GetSchema(relPath string) ([]byte, bool) {
	data, err := fs.ReadFile(GetSchemasFS(), path.Clean(relPath))
	return data, err == nil && len(data) > 0
}

// GetTemplate returns an embedded template by file name.
func GetTemplate(name string) ([]byte, bool) {
	data, err := fs.ReadFile(GetTemplatesFS(), path.Clean(name))
	return data, err == nil && len(data) > 0
}
