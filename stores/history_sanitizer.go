package stores

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// SanitizeHistory removes rows that would produce an invalid provider
// payload before the history is replayed to the model:
//
//   - assistant rows that requested tools but whose calls were never all
//     answered by later tool rows (incomplete cycles, typically from a
//     crash between the model call and tool dispatch — the next user
//     message lands after them, so they can sit anywhere in the history)
//   - tool rows whose ToolCallID was never emitted by an earlier
//     surviving assistant row (orphaned results, typically from
//     truncation or from a dropped incomplete cycle)
//
// The returned slice preserves the relative order of the surviving rows.
func SanitizeHistory(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	// First pass: where each call id is answered.
	answeredAt := make(map[string][]int)
	for i, msg := range msgs {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			answeredAt[msg.ToolCallID] = append(answeredAt[msg.ToolCallID], i)
		}
	}

	emitted := make(map[string]bool)
	sanitized := make([]Message, 0, len(msgs))

	for i, msg := range msgs {
		switch msg.Role {
		case models.RoleTool:
			if msg.ToolCallID == "" || !emitted[msg.ToolCallID] {
				log.Printf("Skipping orphaned tool message (seq %d, call id %q)", msg.Sequence, msg.ToolCallID)
				continue
			}
		case models.RoleAssistant:
			ids := assistantCallIDs(msg)
			if !answeredAfter(ids, answeredAt, i) {
				log.Printf("Removing incomplete tool-call turn (seq %d)", msg.Sequence)
				continue
			}
			for _, id := range ids {
				emitted[id] = true
			}
		}
		sanitized = append(sanitized, msg)
	}

	return sanitized
}

// answeredAfter reports whether every call id has an answering tool row
// strictly after position i.
func answeredAfter(ids []string, answeredAt map[string][]int, i int) bool {
	for _, id := range ids {
		found := false
		for _, at := range answeredAt[id] {
			if at > i {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DetectCorruptedHistory reports invariant violations without modifying
// the history. Useful for logging and diagnostics.
func DetectCorruptedHistory(msgs []Message) []string {
	var issues []string
	emitted := make(map[string]bool)

	answeredAt := make(map[string][]int)
	for i, msg := range msgs {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			answeredAt[msg.ToolCallID] = append(answeredAt[msg.ToolCallID], i)
		}
	}

	for i, msg := range msgs {
		switch msg.Role {
		case models.RoleTool:
			if msg.ToolCallID == "" {
				issues = append(issues, fmt.Sprintf("message %d: tool message without a tool call id", i))
			} else if !emitted[msg.ToolCallID] {
				issues = append(issues, fmt.Sprintf("message %d: tool message answers unknown call id %q", i, msg.ToolCallID))
			}
		case models.RoleAssistant:
			for _, id := range assistantCallIDs(msg) {
				emitted[id] = true
				if !answeredAfter([]string{id}, answeredAt, i) {
					issues = append(issues, fmt.Sprintf("message %d: tool call %q is never answered", i, id))
				}
			}
		}
	}

	return issues
}

// assistantCallIDs returns the call ids requested by an assistant row,
// or nil when the row carries none (or its payload fails to parse).
func assistantCallIDs(msg Message) []string {
	if msg.Role != models.RoleAssistant || msg.ToolCallsJSON == "" {
		return nil
	}

	var calls []models.ToolCall
	if err := json.Unmarshal([]byte(msg.ToolCallsJSON), &calls); err != nil {
		log.Printf("Failed to unmarshal tool calls for message seq %d: %v", msg.Sequence, err)
		return nil
	}

	ids := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
