package tools

import (
	"fmt"
	"math"
	"sort"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ValidationError reports arguments that do not match a tool's input schema.
// Nothing is executed when it is returned.
type ValidationError struct {
	Tool    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Field, e.Message)
}

// Validate checks required fields and JSON types against the top level of
// the tool schema, one level deep for objects and array items. Null optional
// fields count as absent.
func Validate(tool mcptypes.Tool, args map[string]any) error {
	schema := tool.InputSchema

	for _, name := range schema.Required {
		if v, ok := args[name]; !ok || v == nil {
			return &ValidationError{Tool: tool.Name, Field: name, Message: "is required"}
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := args[name]
		if value == nil {
			continue
		}
		prop, ok := schema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		if err := checkValue(tool.Name, name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(toolName, field string, prop map[string]any, value any) error {
	expected, _ := prop["type"].(string)
	if expected == "" {
		return nil
	}
	if !matchesType(expected, value) {
		return &ValidationError{Tool: toolName, Field: field, Message: "must be of type " + expected}
	}

	switch expected {
	case "array":
		items, _ := prop["items"].(map[string]any)
		itemType, _ := items["type"].(string)
		if itemType == "" {
			return nil
		}
		for i, item := range value.([]any) {
			if !matchesType(itemType, item) {
				return &ValidationError{
					Tool:    toolName,
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Message: "must be of type " + itemType,
				}
			}
		}
	case "object":
		props, _ := prop["properties"].(map[string]any)
		for key, nested := range value.(map[string]any) {
			if nested == nil {
				continue
			}
			nestedProp, ok := props[key].(map[string]any)
			if !ok {
				continue
			}
			if err := checkValue(toolName, field+"."+key, nestedProp, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
