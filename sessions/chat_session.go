package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robsonrrr/leads-100-sub007/models"
	"github.com/robsonrrr/leads-100-sub007/stores"
	"github.com/robsonrrr/leads-100-sub007/tools"
)

// maxTitleLen bounds the auto-generated conversation title.
const maxTitleLen = 80

// Send handles one user-initiated chat request end to end: it resolves
// or creates the conversation, persists the user message, then runs the
// agentic loop until the model finalizes or the turn budget runs out.
//
// A conversation id the caller does not own resolves to
// stores.ErrConversationNotFound; ownership is never reported as a
// distinct "forbidden" signal.
func (s *ChatSession) Send(ctx context.Context, identity Identity, request models.Chat_Request) (models.Chat_Response, error) {
	return s.SendWithEvents(ctx, identity, request, nil)
}

// SendWithEvents runs the same loop and additionally reports each
// assistant turn and tool result to the events sink as it is persisted.
func (s *ChatSession) SendWithEvents(ctx context.Context, identity Identity, request models.Chat_Request, events TurnEvents) (models.Chat_Response, error) {
	if strings.TrimSpace(request.Message) == "" {
		return models.Chat_Response{}, fmt.Errorf("message must not be empty")
	}

	conversationID, err := s.resolveConversation(identity, request)
	if err != nil {
		return models.Chat_Response{}, err
	}

	if err := s.Store.SaveMessage(conversationID, models.RoleUser, request.Message, nil, ""); err != nil {
		return models.Chat_Response{}, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.Store.FetchHistory(conversationID, 0)
	if err != nil {
		return models.Chat_Response{}, fmt.Errorf("failed to fetch history: %w", err)
	}

	wire := BuildModelMessages(s.preamble(identity), stores.SanitizeHistory(history))

	state := stateAwaitModel
	finalText := ""

	for turn := 1; turn <= s.MaxTurns; turn++ {
		completion, err := s.Gateway.Complete(ctx, models.Completion_Request{
			Messages:    wire,
			Model:       s.ModelName,
			Temperature: s.Temperature,
			MaxTokens:   s.MaxTokens,
			Caller_ID:   identity.UserID,
			Tools:       s.Catalog.Definitions(),
			// Later iterations depend on this request's tool results and are
			// never safely cacheable under the same key scheme. Note the
			// gateway also ignores the flag whenever tools are offered, so
			// with a non-empty catalog this opt-in has no effect today; it
			// matters only for sessions running an empty catalog.
			UseCache: turn == 1,
		})
		if err != nil {
			return models.Chat_Response{}, fmt.Errorf("model call failed: %w", err)
		}

		if err := s.Store.SaveMessage(conversationID, models.RoleAssistant, completion.Content, completion.ToolCalls, ""); err != nil {
			return models.Chat_Response{}, fmt.Errorf("failed to save assistant message: %w", err)
		}
		wire = append(wire, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		if events != nil {
			events.AssistantTurn(conversationID, completion)
		}

		if completion.Kind == models.CompletionFinal {
			state = stateFinalized
			finalText = completion.Content
			break
		}

		state = stateDispatchTools
		s.Logger.Printf("turn %d: dispatching %d tool call(s)", turn, len(completion.ToolCalls))

		// Every result must be persisted and appended before the next model
		// call; the model's next decision depends on the complete set.
		for _, call := range completion.ToolCalls {
			output := s.dispatchTool(identity, call)
			if err := s.Store.SaveMessage(conversationID, models.RoleTool, output, nil, call.ID); err != nil {
				return models.Chat_Response{}, fmt.Errorf("failed to save tool result: %w", err)
			}
			wire = append(wire, models.ChatMessage{
				Role:       models.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
			if events != nil {
				events.ToolResult(conversationID, call, output)
			}
		}

		state = stateAwaitModel
	}

	if state != stateFinalized {
		state = stateExhausted
		s.Logger.Printf("conversation %s: turn budget of %d exhausted", conversationID, s.MaxTurns)
		return models.Chat_Response{Conversation_ID: conversationID}, ErrTurnsExhausted
	}

	return models.Chat_Response{Conversation_ID: conversationID, Message: finalText}, nil
}

// resolveConversation loads an existing conversation scoped to the
// caller, or creates a fresh one when no id was supplied.
func (s *ChatSession) resolveConversation(identity Identity, request models.Chat_Request) (string, error) {
	if request.Conversation_ID != "" {
		if _, err := s.Store.GetConversation(request.Conversation_ID, identity.UserID); err != nil {
			return "", err
		}
		return request.Conversation_ID, nil
	}

	conversationID := uuid.NewString()
	contextType, contextID := "", ""
	if request.Context != nil {
		contextType = request.Context.Type
		contextID = request.Context.ID
	}

	if err := s.Store.CreateConversation(conversationID, identity.UserID, trimTitle(request.Message), contextType, contextID); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	return conversationID, nil
}

// dispatchTool merges the security context into the parsed arguments and
// executes the handler. The injected fields overwrite anything the model
// supplied for them: a prompted model must not be able to impersonate
// another user or escalate its access level.
func (s *ChatSession) dispatchTool(identity Identity, call models.ToolCall) string {
	if call.Args == nil {
		s.Logger.Printf("malformed arguments for tool %s, proceeding with empty argument set", call.Name)
	}

	merged := make(map[string]interface{}, len(call.Args)+2)
	for k, v := range call.Args {
		merged[k] = v
	}
	merged[tools.ArgUserID] = identity.UserID
	merged[tools.ArgAccessLevel] = identity.AccessLevel

	return s.Catalog.Execute(call.Name, merged)
}

// preamble is the fixed system message opening every model payload. It
// names the assistant's role, the current user and the current time so
// the model can resolve relative date expressions.
func (s *ChatSession) preamble(identity Identity) string {
	return fmt.Sprintf(
		"You are the sales assistant for the leads platform. You answer questions about leads, customers, pricing and account health, using the provided tools for any figures. Current user: %s (access level: %s). Current date and time: %s. Resolve relative dates against this timestamp.",
		identity.UserID, identity.AccessLevel, s.Now().Format(time.RFC1123))
}

// History returns the persisted messages of a conversation in API form,
// scoped to the caller.
func (s *ChatSession) History(identity Identity, conversationID string) ([]models.ChatMessageResponse, error) {
	if _, err := s.Store.GetConversation(conversationID, identity.UserID); err != nil {
		return nil, err
	}

	rows, err := s.Store.FetchHistory(conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	out := make([]models.ChatMessageResponse, 0, len(rows))
	for _, row := range rows {
		msg := models.ChatMessageResponse{
			ID:             row.ID,
			CreatedAt:      row.CreatedAt,
			ConversationID: row.ConversationID,
			Sequence:       row.Sequence,
			Role:           row.Role,
			Content:        row.Content,
			ToolCallID:     row.ToolCallID,
		}
		if row.ToolCallsJSON != "" {
			var calls []models.ToolCall
			if err := json.Unmarshal([]byte(row.ToolCallsJSON), &calls); err != nil {
				s.Logger.Printf("Error unmarshalling tool calls for msg ID %d: %v", row.ID, err)
			} else {
				msg.ToolCalls = calls
			}
		}
		out = append(out, msg)
	}

	return out, nil
}

func trimTitle(message string) string {
	title := strings.TrimSpace(message)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title
}
