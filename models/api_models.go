package models

import "time"

// ChatMessageResponse defines the structure for messages returned by the chat history API endpoint.
// It excludes internal DB fields but includes necessary identifiers and timestamps.
type ChatMessageResponse struct {
	ID             uint       `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	ConversationID string     `json:"conversation_id"`
	Sequence       int        `json:"sequence"`
	Role           string     `json:"role"` // "system", "user", "assistant", "tool"
	Content        string     `json:"content,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
}
