package dispatch

import (
	"reflect"
	"sort"
	"strings"
)

// ToolParam describes one field of a tool's parameter struct.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolSchema is the reflected shape of a tool, built once at registration
// time from its parameter struct and cached for repeated tools/list calls.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters"`
}

// generateSchema reflects paramType into a ToolSchema. Go exposes no
// doc-comment reflection at runtime, so per the fallback spec §9 allows,
// descriptions live in a `desc` struct tag maintained alongside each field
// rather than being derived from source comments. A field is optional (non-
// required) when it is a pointer, a slice, or carries `json:",omitempty"`,
// unless an explicit `required:"true"|"false"` tag says otherwise.
// Parameters are sorted by name for deterministic output.
func generateSchema(name, description string, paramType reflect.Type) ToolSchema {
	var params []ToolParam
	for i := 0; i < paramType.NumField(); i++ {
		f := paramType.Field(i)
		if !f.IsExported() {
			continue
		}

		jsonTag := f.Tag.Get("json")
		fieldName := f.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				fieldName = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}

		required := true
		if omitempty || f.Type.Kind() == reflect.Ptr || f.Type.Kind() == reflect.Slice {
			required = false
		}
		if explicit := f.Tag.Get("required"); explicit != "" {
			required = explicit == "true"
		}

		params = append(params, ToolParam{
			Name:        fieldName,
			Type:        jsonTypeOf(f.Type),
			Required:    required,
			Description: f.Tag.Get("desc"),
		})
	}

	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })

	return ToolSchema{Name: name, Description: description, Parameters: params}
}

func jsonTypeOf(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
