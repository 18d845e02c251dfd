// Package api exposes the chat orchestrator over HTTP and WebSocket.
// Authentication happens upstream: a middleware is expected to set
// "user_id" and "access_level" on the request context before these
// handlers run.
package api

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/robsonrrr/leads-100-sub007/gateway"
	"github.com/robsonrrr/leads-100-sub007/models"
	"github.com/robsonrrr/leads-100-sub007/sessions"
	"github.com/robsonrrr/leads-100-sub007/stores"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler bundles the routes around one chat session.
type Handler struct {
	Session *sessions.ChatSession
	Logger  *log.Logger
}

// NewHandler creates the API handler.
func NewHandler(session *sessions.ChatSession) *Handler {
	return &Handler{
		Session: session,
		Logger:  log.New(os.Stdout, "[api] ", log.LstdFlags),
	}
}

// Register mounts the chat routes on a router group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:conversationID/messages", h.ConversationMessages)
	r.GET("/ws", h.WebSocket)
}

// Chat handles one synchronous chat request.
func (h *Handler) Chat(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	var request models.Chat_Request
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be empty"})
		return
	}

	response, err := h.Session.Send(c.Request.Context(), identity, request)
	if err != nil {
		h.writeChatError(c, response, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListConversations returns the caller's conversations, newest first.
func (h *Handler) ListConversations(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	conversations, err := h.Session.Store.ListConversationsForUser(identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// ConversationMessages returns the full message history of one
// conversation. Conversations the caller does not own are
// indistinguishable from missing ones.
func (h *Handler) ConversationMessages(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	history, err := h.Session.History(identity, c.Param("conversationID"))
	if err != nil {
		if errors.Is(err, stores.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// WebSocket upgrades the connection and serves chat requests until the
// client disconnects.
func (h *Handler) WebSocket(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws := sessions.NewWebSocketSession(h.Session, identity, conn, h.Logger)
	if err := ws.Run(c.Request.Context()); err != nil {
		h.Logger.Printf("WebSocket session for %s ended: %v", identity.UserID, err)
	}
}

// identity pulls the caller's security context out of the request
// context. Requests without one are rejected before any work happens.
func (h *Handler) identity(c *gin.Context) (sessions.Identity, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication context"})
		return sessions.Identity{}, false
	}
	return sessions.Identity{
		UserID:      userID,
		AccessLevel: c.GetString("access_level"),
	}, true
}

// writeChatError maps orchestration failures to HTTP status codes.
func (h *Handler) writeChatError(c *gin.Context, response models.Chat_Response, err error) {
	switch {
	case errors.Is(err, stores.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, gateway.ErrThrottled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, sessions.ErrTurnsExhausted):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":           err.Error(),
			"conversation_id": response.Conversation_ID,
		})
	default:
		h.Logger.Printf("chat request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
