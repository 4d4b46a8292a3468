package bot

import (
	"context"

	"verseroom/internal/document"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model            string
	Messages         []ChatMessage
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

type ChatResponse struct {
	Content string
	Usage   *document.TokenUsage
}

// Provider is the text-in, text-plus-usage-out backend call.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
