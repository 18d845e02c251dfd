package models

// CompletionKind tags the two shapes a model response can take. The
// gateway returns one or the other, never an ambiguous mix of optional
// fields.
type CompletionKind string

const (
	// CompletionFinal is a tool-free response; Content is the answer.
	CompletionFinal CompletionKind = "final"
	// CompletionToolCalls carries one or more requested tool invocations.
	CompletionToolCalls CompletionKind = "tool_calls"
)

// Completion is the normalized model response handed back by the gateway.
type Completion struct {
	Kind      CompletionKind `json:"kind"`
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     TokenUsage     `json:"usage"`
}

// TokenUsage is the provider's token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chat_Response is the outbound payload of the chat operation.
type Chat_Response struct {
	Conversation_ID string `json:"conversation_id"`
	Message         string `json:"message"`
}
