package models

// ToolDeclaration describes one tool offered to the model: its name, the
// natural-language description the model uses to decide when to invoke
// it, and the JSON Schema of its parameters.
type ToolDeclaration struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters defines the JSON Schema for tool parameters
type Parameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}
