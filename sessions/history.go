package sessions

import (
	"encoding/json"
	"log"

	"github.com/robsonrrr/leads-100-sub007/models"
	"github.com/robsonrrr/leads-100-sub007/stores"
)

// BuildModelMessages maps persisted rows into the provider wire format:
// the system preamble first, then the full history in sequence order,
// with assistant rows carrying their original tool calls and tool rows
// re-attached to the call id they answer. Pure function; storage never
// appears here.
func BuildModelMessages(preamble string, history []stores.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history)+1)
	if preamble != "" {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: preamble})
	}

	for _, row := range history {
		msg := models.ChatMessage{
			Role:       row.Role,
			Content:    row.Content,
			ToolCallID: row.ToolCallID,
		}

		if row.ToolCallsJSON != "" {
			var calls []models.ToolCall
			if err := json.Unmarshal([]byte(row.ToolCallsJSON), &calls); err != nil {
				log.Printf("Failed to unmarshal tool calls for message seq %d: %v", row.Sequence, err)
			} else {
				msg.ToolCalls = calls
			}
		}

		out = append(out, msg)
	}

	return out
}
