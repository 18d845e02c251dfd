package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// SQLiteStore implements MessageStore for SQLite databases
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	store := &SQLiteStore{
		path: config.Connection,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	config := NewStoreConfig("sqlite", dbPath)
	return NewSQLiteStore(config)
}

// Connect establishes a connection to the SQLite database
func (s *SQLiteStore) Connect() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	s.db = db

	// Auto-migrate the schema
	if err := s.db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// SaveMessage appends a message to a conversation. Sequence numbers are
// assigned from the current row count inside a transaction, so persisted
// order always matches append order.
func (s *SQLiteStore) SaveMessage(conversationID, role, content string, toolCalls []models.ToolCall, toolCallID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Ensure the conversation record exists (create if first message).
	// Use Count() to check existence without triggering "record not found" error logs
	var count int64
	if err := s.db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		log.Printf("Warning: Error checking for conversation %s: %v", conversationID, err)
	} else if count == 0 {
		if err := s.CreateConversation(conversationID, "", "", "", ""); err != nil {
			log.Printf("Warning: Failed to create conversation record for %s: %v", conversationID, err)
		}
	}

	// Reuse count variable to get the message sequence number
	if err := s.db.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count existing messages: %w", err)
	}

	seq := int(count) + 1

	toolCallsJSON := ""
	if len(toolCalls) > 0 {
		b, err := json.Marshal(toolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls for database: %w", err)
		}
		toolCallsJSON = string(b)
	}

	msg := Message{
		ConversationID: conversationID,
		Sequence:       seq,
		Role:           role,
		Content:        content,
		ToolCallsJSON:  toolCallsJSON,
		ToolCallID:     toolCallID,
	}

	tx := s.db.Begin()
	if err := tx.Create(&msg).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create message record: %w", err)
	}

	if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Update("message_count", seq).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation message count: %w", err)
	}

	return tx.Commit().Error
}

// FetchHistory retrieves messages for a conversation in sequence order
// limit: maximum number of messages to retrieve (0 = return all messages)
func (s *SQLiteStore) FetchHistory(conversationID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var msgs []Message
	query := s.db.Where("conversation_id = ?", conversationID).Order("sequence ASC")

	if limit > 0 {
		var count int64
		if err := s.db.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}

		// If more than limit, offset to get only the last N messages
		if count > int64(limit) {
			offset := int(count) - limit
			query = query.Offset(offset)
		}
	}

	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return msgs, nil
}

// CreateConversation creates a new conversation record
func (s *SQLiteStore) CreateConversation(convoID, userID, title, contextType, contextID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	conv := Conversation{
		ConversationID: convoID,
		UserID:         userID,
		Title:          title,
		ContextType:    contextType,
		ContextID:      contextID,
		MessageCount:   0,
	}

	return s.db.Create(&conv).Error
}

// GetConversation fetches a conversation by id, scoped to its owner.
// A conversation owned by a different user is reported as not found.
func (s *SQLiteStore) GetConversation(convoID, userID string) (*Conversation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var conv Conversation
	err := s.db.Where("conversation_id = ? AND user_id = ?", convoID, userID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return &conv, nil
}

// ListConversationsForUser returns all conversations with details for a specific user
func (s *SQLiteStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var convs []Conversation
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	result := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		result[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			UserID:         c.UserID,
			Title:          c.Title,
			ContextType:    c.ContextType,
			ContextID:      c.ContextID,
			MessageCount:   c.MessageCount,
			CreatedAt:      c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:      c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	return result, nil
}
