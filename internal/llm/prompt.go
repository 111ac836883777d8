package llm

import (
	"encoding/json"
	"fmt"

	"github.com/profilerbackend/internal/models"
)

const (
	chatSystemPrompt = "You are a professional profiling assistant. Answer the user's " +
		"questions about the person being profiled, staying grounded in the " +
		"conversation so far. Be direct and concise."
	profilingSystemPrompt = "You are a professional profiling assistant. Produce a " +
		"structured behavioral profile from the reference material provided. " +
		"Do not invent facts that the material does not support."
)

// Message is one turn of the outbound request. Content is either a plain
// string or a list of content parts for vision requests.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// completionRequest is the OpenAI chat completion request format.
type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// PromptInput is everything the assembler needs for one generate request.
// Profiling runs use ReferenceMaterial; ordinary chat uses PriorTurns.
type PromptInput struct {
	Profiling         bool
	UserLanguage      string
	Prompt            string
	ImageBase64       string
	PriorTurns        []models.ChatTurn
	ReferenceMaterial string
}

// BuildMessages assembles the ordered outbound message sequence: system
// instructions, then history or reference material, then the user's turn.
func BuildMessages(in PromptInput) []Message {
	system := chatSystemPrompt
	if in.Profiling {
		system = profilingSystemPrompt
	}
	if in.UserLanguage != "" {
		system += fmt.Sprintf(" Respond in %s.", in.UserLanguage)
	}

	msgs := []Message{{Role: "system", Content: system}}

	if in.Profiling {
		if in.ReferenceMaterial != "" {
			msgs = append(msgs, Message{
				Role:    "system",
				Content: "Reference material:\n" + in.ReferenceMaterial,
			})
		}
	} else {
		for _, turn := range in.PriorTurns {
			msgs = append(msgs, Message{Role: turn.Role, Content: turn.Content})
		}
	}

	return append(msgs, userMessage(in))
}

func userMessage(in PromptInput) Message {
	if in.ImageBase64 == "" {
		return Message{Role: "user", Content: in.Prompt}
	}

	parts := []contentPart{}
	if in.Prompt != "" {
		parts = append(parts, contentPart{Type: "text", Text: in.Prompt})
	}
	parts = append(parts, contentPart{
		Type:     "image_url",
		ImageURL: &imageURL{URL: "data:image/jpeg;base64," + in.ImageBase64},
	})
	return Message{Role: "user", Content: parts}
}

// MarshalPayload serializes the request body once. Callers hold on to the
// returned bytes for the whole call sequence; the controller never
// re-serializes between attempts.
func (c *Client) MarshalPayload(msgs []Message) ([]byte, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: envInt("LLM_MAX_TOKENS", 1024),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal payload: %v", err)
	}
	return body, nil
}
