// Package gemini adapts the Google Gemini API to the gateway's Provider
// interface. It is the only package that speaks the provider's wire
// format; everything above it deals in the normalized chat types.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/robsonrrr/leads-100-sub007/gateway"
	"github.com/robsonrrr/leads-100-sub007/models"
)

// Provider calls the Gemini API for chat completions.
type Provider struct {
	client       *genai.Client
	DefaultModel string
	Logger       *log.Logger
}

// New creates a Gemini-backed provider. The API key is read from the
// GEMINI_API_KEY environment variable, with .env as a fallback source.
func New(ctx context.Context, defaultModel string) (*Provider, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}

	return &Provider{
		client:       client,
		DefaultModel: defaultModel,
		Logger:       log.New(os.Stdout, "[gemini] ", log.LstdFlags),
	}, nil
}

// Complete submits one completion request and normalizes the response.
// A 429 from the API is wrapped in gateway.ErrThrottled so callers can
// distinguish rate rejection from other provider failures.
func (p *Provider) Complete(ctx context.Context, req models.Completion_Request) (models.Completion, error) {
	model := req.Model
	if model == "" {
		model = p.DefaultModel
	}

	contents, system := toContents(req.Messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(req.Tools)}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return models.Completion{}, fmt.Errorf("%w: %s", gateway.ErrThrottled, apiErr.Message)
		}
		return models.Completion{}, fmt.Errorf("generate content failed: %w", err)
	}

	return fromResponse(resp)
}

// toContents maps the normalized history into Gemini contents. System
// messages are collected into the system instruction; tool results
// travel as function-response parts attributed to the user role.
func toContents(messages []models.ChatMessage) ([]*genai.Content, string) {
	system := ""
	// Gemini addresses function responses by tool name, our history by
	// call id. Track the mapping as assistant turns stream past.
	callNames := make(map[string]string)

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content

		case models.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Args,
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, &genai.Part{Text: ""})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case models.RoleTool:
			name := callNames[msg.ToolCallID]
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
				payload = map[string]interface{}{"raw_output": msg.Content}
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     name,
					Response: payload,
				}}},
			})

		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, system
}

// toDeclarations converts the catalog schemas to the Gemini format.
func toDeclarations(tools []models.ToolDeclaration) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: toProperties(tool.Parameters.Properties),
				Required:   tool.Parameters.Required,
			},
		})
	}
	return decls
}

func toProperties(properties map[string]interface{}) map[string]*genai.Schema {
	out := make(map[string]*genai.Schema, len(properties))
	for name, raw := range properties {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			out[name] = &genai.Schema{Type: genai.TypeString}
			continue
		}
		schema := &genai.Schema{Type: schemaType(prop)}
		if desc, ok := prop["description"].(string); ok {
			schema.Description = desc
		}
		out[name] = schema
	}
	return out
}

func schemaType(prop map[string]interface{}) genai.Type {
	t, _ := prop["type"].(string)
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// fromResponse normalizes the first candidate into a Completion.
func fromResponse(resp *genai.GenerateContentResponse) (models.Completion, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return models.Completion{}, fmt.Errorf("empty response from model")
	}

	text := ""
	var calls []models.ToolCall
	for i, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				// The API frequently omits call ids; mint stable ones so tool
				// results can be re-attached.
				id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, i)
			}
			calls = append(calls, models.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	completion := models.Completion{
		Kind:    models.CompletionFinal,
		Role:    models.RoleAssistant,
		Content: text,
	}
	if len(calls) > 0 {
		completion.Kind = models.CompletionToolCalls
		completion.ToolCalls = calls
	}

	if resp.UsageMetadata != nil {
		completion.Usage = models.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return completion, nil
}
