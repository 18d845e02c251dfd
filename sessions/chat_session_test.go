package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/robsonrrr/leads-100-sub007/models"
	"github.com/robsonrrr/leads-100-sub007/stores"
	"github.com/robsonrrr/leads-100-sub007/tools"
)

// memoryStore is an in-memory MessageStore for orchestrator tests.
type memoryStore struct {
	conversations map[string]*stores.Conversation
	messages      map[string][]stores.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]*stores.Conversation),
		messages:      make(map[string][]stores.Message),
	}
}

func (m *memoryStore) SaveMessage(conversationID, role, content string, toolCalls []models.ToolCall, toolCallID string) error {
	toolCallsJSON := ""
	if len(toolCalls) > 0 {
		b, err := json.Marshal(toolCalls)
		if err != nil {
			return err
		}
		toolCallsJSON = string(b)
	}

	m.messages[conversationID] = append(m.messages[conversationID], stores.Message{
		ConversationID: conversationID,
		Sequence:       len(m.messages[conversationID]) + 1,
		Role:           role,
		Content:        content,
		ToolCallsJSON:  toolCallsJSON,
		ToolCallID:     toolCallID,
	})
	return nil
}

func (m *memoryStore) FetchHistory(conversationID string, limit int) ([]stores.Message, error) {
	msgs := m.messages[conversationID]
	out := make([]stores.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memoryStore) CreateConversation(convoID, userID, title, contextType, contextID string) error {
	m.conversations[convoID] = &stores.Conversation{
		ConversationID: convoID,
		UserID:         userID,
		Title:          title,
		ContextType:    contextType,
		ContextID:      contextID,
	}
	return nil
}

func (m *memoryStore) GetConversation(convoID, userID string) (*stores.Conversation, error) {
	conv, ok := m.conversations[convoID]
	if !ok || conv.UserID != userID {
		return nil, stores.ErrConversationNotFound
	}
	return conv, nil
}

func (m *memoryStore) ListConversationsForUser(userID string) ([]stores.ConversationInfo, error) {
	var out []stores.ConversationInfo
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, stores.ConversationInfo{ConversationID: c.ConversationID, UserID: c.UserID, Title: c.Title})
		}
	}
	return out, nil
}

func (m *memoryStore) Connect() error { return nil }
func (m *memoryStore) Close() error   { return nil }
func (m *memoryStore) Ping() error    { return nil }

// scriptedGateway returns canned completions in order; when the script
// runs out it repeats the last entry.
type scriptedGateway struct {
	script   []models.Completion
	err      error
	requests []models.Completion_Request
}

func (g *scriptedGateway) Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return models.Completion{}, g.err
	}
	idx := len(g.requests) - 1
	if idx >= len(g.script) {
		idx = len(g.script) - 1
	}
	return g.script[idx], nil
}

func toolCallCompletion(calls ...models.ToolCall) models.Completion {
	return models.Completion{
		Kind:      models.CompletionToolCalls,
		Role:      models.RoleAssistant,
		ToolCalls: calls,
	}
}

func finalCompletion(text string) models.Completion {
	return models.Completion{
		Kind:    models.CompletionFinal,
		Role:    models.RoleAssistant,
		Content: text,
	}
}

// recordingChurn captures the security context its handler received.
type recordingChurn struct {
	lastUserID     string
	lastCustomerID string
	err            error
}

func (r *recordingChurn) ChurnRisk(userID, customerID string) (map[string]interface{}, error) {
	r.lastUserID = userID
	r.lastCustomerID = customerID
	if r.err != nil {
		return nil, r.err
	}
	return map[string]interface{}{"customer_id": customerID, "risk": "low", "score": 0.12}, nil
}

type stubForecast struct{}

func (stubForecast) ForecastRevenue(userID, customerID string, horizonMonths int) (map[string]interface{}, error) {
	return map[string]interface{}{"customer_id": customerID}, nil
}

type stubRecommender struct{}

func (stubRecommender) RecommendProducts(userID, customerID string, limit int) (map[string]interface{}, error) {
	return map[string]interface{}{"customer_id": customerID}, nil
}

type stubPricing struct{}

func (stubPricing) DiscountPrice(userID, accessLevel, productID string, quantity int) (map[string]interface{}, error) {
	return map[string]interface{}{"product_id": productID}, nil
}

func testSession(gw CompletionGateway, store stores.MessageStore, churn tools.ChurnScorer) *ChatSession {
	session := NewChatSession(gw, tools.SalesCatalog(stubForecast{}, churn, stubRecommender{}, stubPricing{}), store)
	session.Logger = log.New(&strings.Builder{}, "", 0)
	session.Now = func() time.Time { return time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) }
	return session
}

var testIdentity = Identity{UserID: "user-1", AccessLevel: "rep"}

func TestSend_ChurnRiskScenario(t *testing.T) {
	churn := &recordingChurn{}
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{
			ID:   "call_1",
			Name: "churn_risk",
			// The model tries to forge the caller's identity; injection must
			// overwrite it.
			Args: map[string]interface{}{"customer_id": "42", "user_id": "someone-else"},
		}),
		finalCompletion("Customer 42 is low risk."),
	}}
	store := newMemoryStore()
	session := testSession(gw, store, churn)

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{
		Message: "what's the churn risk for customer 42?",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(gw.requests) != 2 {
		t.Errorf("Expected exactly 2 gateway calls, got %d", len(gw.requests))
	}
	if response.Message != "Customer 42 is low risk." {
		t.Errorf("Unexpected final message: %q", response.Message)
	}
	if churn.lastCustomerID != "42" {
		t.Errorf("Expected handler to receive customer 42, got %q", churn.lastCustomerID)
	}
	if churn.lastUserID != "user-1" {
		t.Errorf("Expected injected user id to override the model's, got %q", churn.lastUserID)
	}

	msgs := store.messages[response.Conversation_ID]
	wantRoles := []string{"user", "assistant", "tool", "assistant"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("Expected %d persisted messages, got %d", len(wantRoles), len(msgs))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d: expected role %s, got %s", i, want, msgs[i].Role)
		}
		if msgs[i].Sequence != i+1 {
			t.Errorf("message %d: expected sequence %d, got %d", i, i+1, msgs[i].Sequence)
		}
	}
	if msgs[2].ToolCallID != "call_1" {
		t.Errorf("Expected tool message to reference call_1, got %q", msgs[2].ToolCallID)
	}
	if !strings.Contains(msgs[2].Content, "result") {
		t.Errorf("Expected serialized tool result, got %q", msgs[2].Content)
	}
}

func TestSend_CacheEnabledOnlyOnFirstIteration(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{ID: "call_1", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}}),
		toolCallCompletion(models.ToolCall{ID: "call_2", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}}),
		finalCompletion("done"),
	}}
	session := testSession(gw, newMemoryStore(), &recordingChurn{})

	if _, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(gw.requests) != 3 {
		t.Fatalf("Expected 3 gateway calls, got %d", len(gw.requests))
	}
	if !gw.requests[0].UseCache {
		t.Error("Expected cache lookup on the first iteration")
	}
	for i, req := range gw.requests[1:] {
		if req.UseCache {
			t.Errorf("Expected iteration %d to bypass the cache", i+2)
		}
	}
}

func TestSend_ToolErrorFeedsBackAndContinues(t *testing.T) {
	churn := &recordingChurn{err: errors.New("scoring service down")}
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{ID: "call_1", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}}),
		finalCompletion("Sorry, I couldn't score that customer right now."),
	}}
	store := newMemoryStore()
	session := testSession(gw, store, churn)

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "churn for 42?"})
	if err != nil {
		t.Fatalf("Expected the conversation to continue past a tool failure, got %v", err)
	}

	msgs := store.messages[response.Conversation_ID]
	var toolMsg *stores.Message
	for i := range msgs {
		if msgs[i].Role == models.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("Expected a persisted tool message")
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("Tool message content is not JSON: %q", toolMsg.Content)
	}
	if !strings.Contains(payload["error"], "scoring service down") {
		t.Errorf("Expected serialized error payload, got %v", payload)
	}
}

func TestSend_UnknownToolDoesNotAbort(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{ID: "call_1", Name: "delete_everything", Args: map[string]interface{}{}}),
		finalCompletion("that tool does not exist"),
	}}
	store := newMemoryStore()
	session := testSession(gw, store, &recordingChurn{})

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs := store.messages[response.Conversation_ID]
	if !strings.Contains(msgs[2].Content, "unknown or unavailable tool") {
		t.Errorf("Expected unknown-tool payload, got %q", msgs[2].Content)
	}
}

func TestSend_TurnBudgetExhausted(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{ID: "call_x", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}}),
	}}
	session := testSession(gw, newMemoryStore(), &recordingChurn{})

	_, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "loop forever"})
	if !errors.Is(err, ErrTurnsExhausted) {
		t.Fatalf("Expected ErrTurnsExhausted, got %v", err)
	}

	// The prospective call after the ceiling is never made.
	if len(gw.requests) != session.MaxTurns {
		t.Errorf("Expected exactly %d gateway calls, got %d", session.MaxTurns, len(gw.requests))
	}
}

func TestSend_GatewayErrorAbortsRequest(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("provider unreachable")}
	store := newMemoryStore()
	session := testSession(gw, store, &recordingChurn{})

	_, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hi"})
	if err == nil {
		t.Fatal("Expected gateway errors to abort the request")
	}
}

func TestSend_OwnershipResolvesToNotFound(t *testing.T) {
	store := newMemoryStore()
	if err := store.CreateConversation("conv-other", "other-user", "t", "", ""); err != nil {
		t.Fatal(err)
	}
	session := testSession(&scriptedGateway{script: []models.Completion{finalCompletion("hi")}}, store, &recordingChurn{})

	_, err := session.Send(context.Background(), testIdentity, models.Chat_Request{
		Message:         "hi",
		Conversation_ID: "conv-other",
	})
	if !errors.Is(err, stores.ErrConversationNotFound) {
		t.Errorf("Expected foreign conversation to look not-found, got %v", err)
	}

	_, err = session.Send(context.Background(), testIdentity, models.Chat_Request{
		Message:         "hi",
		Conversation_ID: "conv-missing",
	})
	if !errors.Is(err, stores.ErrConversationNotFound) {
		t.Errorf("Expected missing conversation to look not-found, got %v", err)
	}
}

func TestSend_CreatesConversationForCaller(t *testing.T) {
	store := newMemoryStore()
	session := testSession(&scriptedGateway{script: []models.Completion{finalCompletion("hello")}}, store, &recordingChurn{})

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{
		Message: "open question about lead 7",
		Context: &models.ChatContext{Type: "lead", ID: "7"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if response.Conversation_ID == "" {
		t.Fatal("Expected a generated conversation id")
	}

	conv := store.conversations[response.Conversation_ID]
	if conv == nil {
		t.Fatal("Expected the conversation to be persisted")
	}
	if conv.UserID != testIdentity.UserID {
		t.Errorf("Expected ownership by the caller, got %q", conv.UserID)
	}
	if conv.ContextType != "lead" || conv.ContextID != "7" {
		t.Errorf("Expected conversation context to be recorded, got %q/%q", conv.ContextType, conv.ContextID)
	}
}

func TestSend_PreambleOpensPayload(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{finalCompletion("hi")}}
	session := testSession(gw, newMemoryStore(), &recordingChurn{})

	if _, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	first := gw.requests[0].Messages[0]
	if first.Role != models.RoleSystem {
		t.Fatalf("Expected the system preamble first, got role %s", first.Role)
	}
	if !strings.Contains(first.Content, "user-1") {
		t.Error("Expected the preamble to name the current user")
	}
	if !strings.Contains(first.Content, "2025") {
		t.Error("Expected the preamble to carry the current date")
	}
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	session := testSession(&scriptedGateway{}, newMemoryStore(), &recordingChurn{})

	if _, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "   "}); err == nil {
		t.Error("Expected empty messages to be rejected")
	}
}

func TestSend_MultipleToolCallsAllAnsweredBeforeNextTurn(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(
			models.ToolCall{ID: "call_1", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}},
			models.ToolCall{ID: "call_2", Name: "forecast_revenue", Args: map[string]interface{}{"customer_id": "42"}},
		),
		finalCompletion("summary"),
	}}
	store := newMemoryStore()
	session := testSession(gw, store, &recordingChurn{})

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "full review"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Second request must already contain both tool results.
	second := gw.requests[1].Messages
	toolResults := 0
	for _, m := range second {
		if m.Role == models.RoleTool {
			toolResults++
		}
	}
	if toolResults != 2 {
		t.Errorf("Expected both tool results in the next payload, got %d", toolResults)
	}

	msgs := store.messages[response.Conversation_ID]
	if msgs[2].ToolCallID != "call_1" || msgs[3].ToolCallID != "call_2" {
		t.Errorf("Expected tool results persisted in request order, got %q then %q",
			msgs[2].ToolCallID, msgs[3].ToolCallID)
	}
}

// recordedEvents collects the turn notifications of one run.
type recordedEvents struct {
	assistantTurns int
	toolResults    []string
}

func (r *recordedEvents) AssistantTurn(conversationID string, completion models.Completion) {
	r.assistantTurns++
}

func (r *recordedEvents) ToolResult(conversationID string, call models.ToolCall, output string) {
	r.toolResults = append(r.toolResults, call.ID)
}

func TestSendWithEvents_StreamsTurns(t *testing.T) {
	gw := &scriptedGateway{script: []models.Completion{
		toolCallCompletion(models.ToolCall{ID: "call_1", Name: "churn_risk", Args: map[string]interface{}{"customer_id": "42"}}),
		finalCompletion("done"),
	}}
	session := testSession(gw, newMemoryStore(), &recordingChurn{})

	events := &recordedEvents{}
	if _, err := session.SendWithEvents(context.Background(), testIdentity, models.Chat_Request{Message: "hi"}, events); err != nil {
		t.Fatalf("SendWithEvents failed: %v", err)
	}

	if events.assistantTurns != 2 {
		t.Errorf("Expected 2 assistant turn events, got %d", events.assistantTurns)
	}
	if len(events.toolResults) != 1 || events.toolResults[0] != "call_1" {
		t.Errorf("Expected one tool result event for call_1, got %v", events.toolResults)
	}
}

func TestHistoryEndpoint_ScopedToOwner(t *testing.T) {
	store := newMemoryStore()
	session := testSession(&scriptedGateway{script: []models.Completion{finalCompletion("hi")}}, store, &recordingChurn{})

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hello"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	history, err := session.History(testIdentity, response.Conversation_ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(history))
	}

	if _, err := session.History(Identity{UserID: "intruder"}, response.Conversation_ID); !errors.Is(err, stores.ErrConversationNotFound) {
		t.Errorf("Expected foreign history access to look not-found, got %v", err)
	}
}

func TestSend_NilArgsGetSecurityContext(t *testing.T) {
	churn := &recordingChurn{}
	gw := &scriptedGateway{script: []models.Completion{
		// Malformed arguments degrade to an empty set, but injection still applies.
		toolCallCompletion(models.ToolCall{ID: "call_1", Name: "churn_risk", Args: nil}),
		finalCompletion("done"),
	}}
	store := newMemoryStore()
	session := testSession(gw, store, churn)

	response, err := session.Send(context.Background(), testIdentity, models.Chat_Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// churn_risk fails on the missing customer_id, but the payload proves
	// the call went through the catalog rather than aborting the turn.
	msgs := store.messages[response.Conversation_ID]
	if !strings.Contains(msgs[2].Content, "customer_id") {
		t.Errorf("Expected a missing-argument payload, got %q", msgs[2].Content)
	}
}
