package models

// Chat_Request is the inbound "send a chat message" payload. When
// Conversation_ID is empty a new conversation is created for the caller.
type Chat_Request struct {
	Message         string       `json:"message"`
	Conversation_ID string       `json:"conversation_id,omitempty"`
	Context         *ChatContext `json:"context,omitempty"`
}

// ChatContext is a free-form classification of what the conversation is
// about (e.g. a lead, a customer account, a quote).
type ChatContext struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Completion_Request is the options bundle submitted to the gateway for
// one model call.
type Completion_Request struct {
	Messages    []ChatMessage     `json:"messages"`
	Model       string            `json:"model,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	// Caller_ID identifies the requesting user for usage logging and
	// cache partitioning.
	Caller_ID string            `json:"caller_id,omitempty"`
	Tools     []ToolDeclaration `json:"tools,omitempty"`
	// UseCache enables the gateway's response cache lookup. It is only
	// honored when no tools are offered.
	UseCache bool `json:"use_cache,omitempty"`
}
