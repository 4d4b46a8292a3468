package bot

import (
	"context"
	"strings"

	"verseroom/internal/document"
)

// MockProvider answers locally when no backend API key is configured, so the
// room keeps working (degraded) instead of erroring on every directive.
type MockProvider struct{}

var _ Provider = MockProvider{}

func (MockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	var userMessage, systemMessage string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			userMessage = m.Content
		case RoleSystem:
			if systemMessage == "" {
				systemMessage = m.Content
			}
		}
	}

	response := "这是一个模拟的AI回复。"
	if strings.Contains(userMessage, "提示词") || strings.Contains(systemMessage, "提示词") {
		basePrompt := "你是一个AI助手"
		for _, part := range strings.Split(userMessage, `"`) {
			if len([]rune(part)) > 10 {
				basePrompt = part
				break
			}
		}
		if len([]rune(basePrompt)) < 30 {
			response = basePrompt + "。请提供准确、专业的回答，保持友好和耐心。如果用户问题不清楚，请礼貌地要求澄清。回答应该简洁明了，重点突出，避免冗余信息。"
		} else {
			response = basePrompt + " 在回答时，请确保信息准确可靠，语言简洁清晰，逻辑结构合理。对于专业问题，给出深入但易懂的解释；对于主观问题，提供平衡的多角度观点。始终保持友好、耐心的态度，尊重用户的不同背景和需求。"
		}
	} else if userMessage != "" {
		head := []rune(userMessage)
		if len(head) > 20 {
			head = head[:20]
		}
		response = "关于\"" + string(head) + "...\"的回复：我理解您的问题，这是一个模拟的回答。实际AI会根据您的问题提供更详细的信息。"
	}

	promptTokens := len([]rune(userMessage))
	completionTokens := len([]rune(response))
	return ChatResponse{
		Content: response,
		Usage: &document.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}
