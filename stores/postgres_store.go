package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// PostgresStore implements MessageStore for PostgreSQL databases
type PostgresStore struct {
	db  *gorm.DB
	dsn string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config *StoreConfig) (*PostgresStore, error) {
	if config.Type != "postgres" {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	store := &PostgresStore{
		dsn: config.Connection,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return store, nil
}

// NewPostgresStoreSimple creates a new PostgreSQL store with just a DSN
func NewPostgresStoreSimple(dsn string) (*PostgresStore, error) {
	config := NewStoreConfig("postgres", dsn)
	return NewPostgresStore(config)
}

// Connect establishes a connection to the PostgreSQL database
func (s *PostgresStore) Connect() error {
	db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s.db = db

	// Auto-migrate the schema
	if err := s.db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
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
func (s *PostgresStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// SaveMessage appends a message to a conversation. See SQLiteStore.SaveMessage.
func (s *PostgresStore) SaveMessage(conversationID, role, content string, toolCalls []models.ToolCall, toolCallID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var count int64
	if err := s.db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		log.Printf("Warning: Error checking for conversation %s: %v", conversationID, err)
	} else if count == 0 {
		if err := s.CreateConversation(conversationID, "", "", "", ""); err != nil {
			log.Printf("Warning: Failed to create conversation record for %s: %v", conversationID, err)
		}
	}

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
func (s *PostgresStore) FetchHistory(conversationID string, limit int) ([]Message, error) {
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
func (s *PostgresStore) CreateConversation(convoID, userID, title, contextType, contextID string) error {
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
func (s *PostgresStore) GetConversation(convoID, userID string) (*Conversation, error) {
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
func (s *PostgresStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
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
