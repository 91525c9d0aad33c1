package llm

import "encoding/json"

// ToolDefinition represents an OpenAI-style tool definition for function calling
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef defines a function that the model can call
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Smart home tool names.
const (
	ToolSetLightState = "setLightState"
	ToolSetThermostat = "setThermostat"
)

// ToolDefinitions contains the smart home tools offered to the model
var ToolDefinitions = []ToolDefinition{
	{
		Type: "function",
		Function: FunctionDef{
			Name:        ToolSetLightState,
			Description: "Turns a smart light on or off based on room or device name.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"deviceName": {
						"type": "string",
						"description": "The room or device name, e.g. 'Living Room' or 'Gamer Setup'. Partial names match."
					},
					"state": {
						"type": "boolean",
						"description": "true to turn on, false to turn off"
					}
				},
				"required": ["deviceName", "state"]
			}`),
		},
	},
	{
		Type: "function",
		Function: FunctionDef{
			Name:        ToolSetThermostat,
			Description: "Sets the temperature for the smart thermostat.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"temperature": {
						"type": "number",
						"description": "Target temperature in Fahrenheit."
					}
				},
				"required": ["temperature"]
			}`),
		},
	},
}

// GetToolDefinitions returns a copy of all tool definitions
func GetToolDefinitions() []ToolDefinition {
	result := make([]ToolDefinition, len(ToolDefinitions))
	copy(result, ToolDefinitions)
	return result
}

// GetToolByName returns a tool definition by name, or nil if not found
func GetToolByName(name string) *ToolDefinition {
	for _, tool := range ToolDefinitions {
		if tool.Function.Name == name {
			t := tool
			return &t
		}
	}
	return nil
}

// ListToolNames returns the names of all available tools
func ListToolNames() []string {
	names := make([]string, len(ToolDefinitions))
	for i, tool := range ToolDefinitions {
		names[i] = tool.Function.Name
	}
	return names
}
