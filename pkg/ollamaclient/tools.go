package ollamaclient

import (
	"maps"
	"slices"

	"github.com/ollama/ollama/api"
)

// ToolDefinition describes a callable tool in the shape Ollama expects.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  ToolParameters
}

// ToolParameters is a JSON-schema object describing a tool's arguments.
type ToolParameters struct {
	Type       string
	Properties map[string]Property
	Required   []string
}

// Property is a single argument in a tool schema.
type Property struct {
	Type        string
	Description string
	Enum        []string
}

// convertTools converts our tool definitions to Ollama's Tool format.
func convertTools(toolDefs []ToolDefinition) api.Tools {
	ollamaTools := make(api.Tools, len(toolDefs))

	for i := range toolDefs {
		td := &toolDefs[i]
		properties := api.NewToolPropertiesMap()
		for _, name := range slices.Sorted(maps.Keys(td.Parameters.Properties)) {
			prop := td.Parameters.Properties[name]
			properties.Set(name, convertProperty(&prop))
		}

		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       td.Parameters.Type,
					Properties: properties,
					Required:   td.Parameters.Required,
				},
			},
		}
	}

	return ollamaTools
}

func convertProperty(prop *Property) api.ToolProperty {
	ollamaProp := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}

	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		ollamaProp.Enum = enumVals
	}

	return ollamaProp
}
