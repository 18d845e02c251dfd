package sessions

import (
	"log"
	"os"
	"time"

	"github.com/robsonrrr/leads-100-sub007/stores"
	"github.com/robsonrrr/leads-100-sub007/tools"
)

// NewChatSession creates a chat session with production defaults.
func NewChatSession(gateway CompletionGateway, catalog *tools.Catalog, store stores.MessageStore) *ChatSession {
	return &ChatSession{
		Gateway:     gateway,
		Catalog:     catalog,
		Store:       store,
		Logger:      log.New(os.Stdout, "[chat] ", log.LstdFlags),
		ModelName:   "gemini-2.0-flash",
		Temperature: 0.2,
		MaxTokens:   2048,
		MaxTurns:    5,
		Now:         time.Now,
	}
}

// WithModelName overrides the default model.
func (s *ChatSession) WithModelName(name string) *ChatSession {
	s.ModelName = name
	return s
}

// WithMaxTurns overrides the turn ceiling.
func (s *ChatSession) WithMaxTurns(n int) *ChatSession {
	if n > 0 {
		s.MaxTurns = n
	}
	return s
}
