package sessions

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// WebSocketWriter serializes all writes to one WebSocket connection.
type WebSocketWriter struct {
	Conn   *websocket.Conn
	Logger *log.Logger
	mu     sync.Mutex
}

func (w *WebSocketWriter) WriteEvent(event interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(event)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "error", "error": message})
}

func (w *WebSocketWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "done"})
}

// WebSocketMessageEvent is the frame sent for each finalized response.
type WebSocketMessageEvent struct {
	Type           string `json:"type"` // "message"
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// WebSocketAssistantEvent is the frame sent for each intermediate
// assistant turn, including the tool calls it requested.
type WebSocketAssistantEvent struct {
	Type           string            `json:"type"` // "assistant"
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content,omitempty"`
	ToolCalls      []models.ToolCall `json:"tool_calls,omitempty"`
}

// WebSocketToolResultEvent is the frame sent for each executed tool.
type WebSocketToolResultEvent struct {
	Type           string `json:"type"` // "tool_result"
	ConversationID string `json:"conversation_id"`
	ToolCallID     string `json:"tool_call_id"`
	ToolName       string `json:"tool_name"`
	Output         string `json:"output"`
}

// WebSocketSession drives the same agentic loop over a WebSocket
// connection: each inbound frame is a Chat_Request, each outbound frame
// a message, error or done event.
type WebSocketSession struct {
	Session  *ChatSession
	Identity Identity
	Writer   *WebSocketWriter
	Logger   *log.Logger
}

// NewWebSocketSession wraps an upgraded connection for one caller.
func NewWebSocketSession(session *ChatSession, identity Identity, conn *websocket.Conn, logger *log.Logger) *WebSocketSession {
	return &WebSocketSession{
		Session:  session,
		Identity: identity,
		Writer:   &WebSocketWriter{Conn: conn, Logger: logger},
		Logger:   logger,
	}
}

// Run reads chat requests until the connection closes or the context is
// cancelled. Loop failures are reported to the client and the session
// keeps serving; only transport errors end it.
func (ws *WebSocketSession) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var request models.Chat_Request
		if err := ws.Writer.Conn.ReadJSON(&request); err != nil {
			ws.Logger.Printf("WebSocket read error: %v", err)
			return err
		}

		response, err := ws.Session.SendWithEvents(ctx, ws.Identity, request, ws)
		if err != nil {
			ws.Logger.Printf("Chat error: %v", err)
			if writeErr := ws.Writer.WriteError(err.Error()); writeErr != nil {
				return writeErr
			}
			continue
		}

		if err := ws.Writer.WriteEvent(WebSocketMessageEvent{
			Type:           "message",
			ConversationID: response.Conversation_ID,
			Message:        response.Message,
		}); err != nil {
			return err
		}
		if err := ws.Writer.WriteDone(); err != nil {
			return err
		}
	}
}

// AssistantTurn streams an intermediate assistant turn to the client.
// Write failures are logged, not fatal: the loop's own persistence is
// unaffected and the final response still goes through Run.
func (ws *WebSocketSession) AssistantTurn(conversationID string, completion models.Completion) {
	err := ws.Writer.WriteEvent(WebSocketAssistantEvent{
		Type:           "assistant",
		ConversationID: conversationID,
		Content:        completion.Content,
		ToolCalls:      completion.ToolCalls,
	})
	if err != nil {
		ws.Logger.Printf("Failed to stream assistant turn: %v", err)
	}
}

// ToolResult streams one executed tool result to the client.
func (ws *WebSocketSession) ToolResult(conversationID string, call models.ToolCall, output string) {
	err := ws.Writer.WriteEvent(WebSocketToolResultEvent{
		Type:           "tool_result",
		ConversationID: conversationID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Output:         output,
	})
	if err != nil {
		ws.Logger.Printf("Failed to stream tool result: %v", err)
	}
}
