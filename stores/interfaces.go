package stores

import (
	"errors"

	"gorm.io/gorm"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// ErrConversationNotFound is returned both for nonexistent conversations
// and for conversations owned by another user. The two cases are never
// distinguished, so callers cannot probe for existence.
var ErrConversationNotFound = errors.New("conversation not found")

// Message is one persisted turn of a conversation. Rows are append-only
// and immutable once written; Sequence is strictly increasing per
// conversation and carries the total order used for reconstruction.
type Message struct {
	gorm.Model
	ConversationID string `gorm:"index;not null"`
	Sequence       int    `gorm:"not null"`
	Role           string `gorm:"not null"` // "system", "user", "assistant", "tool"
	// Content may be empty for assistant rows that only carry tool calls.
	Content string `gorm:"type:text"`
	// ToolCallsJSON stores the marshaled []models.ToolCall requested by an
	// assistant turn.
	ToolCallsJSON string `gorm:"type:json"`
	// ToolCallID links a tool-role row back to the assistant call it answers.
	ToolCallID string `gorm:"index" json:"tool_call_id,omitempty"`
}

// Conversation holds metadata for a chat conversation. Ownership is
// immutable and conversations are never deleted here.
type Conversation struct {
	gorm.Model
	ConversationID string `gorm:"uniqueIndex;not null"`
	UserID         string `gorm:"index;not null"`
	Title          string `gorm:"type:text"`
	// ContextType/ContextID classify what the conversation is about
	// (lead, customer, quote, ...). Free-form.
	ContextType  string `gorm:"index"`
	ContextID    string
	MessageCount int       `gorm:"default:0"`
	Messages     []Message `gorm:"foreignKey:ConversationID;references:ConversationID"`
}

// ConversationInfo holds basic conversation metadata for listing
type ConversationInfo struct {
	ConversationID string
	UserID         string
	Title          string
	ContextType    string
	ContextID      string
	MessageCount   int
	CreatedAt      string
	UpdatedAt      string
}

// MessageStore interface for abstracting database operations
type MessageStore interface {
	// Message operations
	SaveMessage(conversationID, role, content string, toolCalls []models.ToolCall, toolCallID string) error
	FetchHistory(conversationID string, limit int) ([]Message, error)

	// Conversation operations
	CreateConversation(convoID, userID, title, contextType, contextID string) error
	// GetConversation resolves a conversation scoped to its owner; any
	// mismatch yields ErrConversationNotFound.
	GetConversation(convoID, userID string) (*Conversation, error)
	ListConversationsForUser(userID string) ([]ConversationInfo, error)

	// Connection management
	Connect() error
	Close() error

	// Health check
	Ping() error
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite", "postgres"
	Connection string            `json:"connection"` // connection string
	Options    map[string]string `json:"options"`    // additional options
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}
