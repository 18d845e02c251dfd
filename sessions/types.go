// Package sessions drives the bounded agentic loop: it persists the
// conversation, calls the gateway, dispatches requested tools with the
// caller's security context injected, and stops at a final response or
// at the turn ceiling.
package sessions

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robsonrrr/leads-100-sub007/models"
	"github.com/robsonrrr/leads-100-sub007/stores"
	"github.com/robsonrrr/leads-100-sub007/tools"
)

// ErrTurnsExhausted is returned when the turn budget is consumed without
// the model producing a tool-free response. The partial conversation
// stays persisted and can be resumed by the user's next message.
var ErrTurnsExhausted = errors.New("turn budget exhausted before the model produced a final response")

// Identity is the authenticated caller, attached upstream by the auth
// middleware. It is the only source of the user id and access level a
// tool handler ever sees.
type Identity struct {
	UserID      string
	AccessLevel string
}

// loopState tracks where one request is inside the agentic loop.
type loopState int

const (
	stateAwaitModel loopState = iota
	stateDispatchTools
	stateFinalized
	stateExhausted
)

// TurnEvents receives progress notifications while the agentic loop
// runs, one per persisted assistant turn and tool result. Used by the
// WebSocket session to stream intermediate state; nil disables it.
type TurnEvents interface {
	AssistantTurn(conversationID string, completion models.Completion)
	ToolResult(conversationID string, call models.ToolCall, output string)
}

// CompletionGateway is the mediated path to the model provider.
type CompletionGateway interface {
	Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error)
}

// ChatSession orchestrates chat requests against one gateway, catalog
// and store. Concurrent requests are independent runs; they share only
// the gateway's limiter and cache.
type ChatSession struct {
	Gateway CompletionGateway
	Catalog *tools.Catalog
	Store   stores.MessageStore
	Logger  *log.Logger

	ModelName   string
	Temperature float64
	MaxTokens   int
	// MaxTurns bounds the number of gateway calls per request,
	// independent of wall-clock time.
	MaxTurns int

	// Now is swappable for tests; the system preamble embeds it.
	Now func() time.Time
}
