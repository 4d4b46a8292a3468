package bot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"verseroom/internal/document"
	"verseroom/internal/metrics"
	"verseroom/internal/store"
)

// Gateway turns user directives into generation requests. Generation
// parameters are re-read from the persisted bot config before each call.
type Gateway struct {
	provider Provider
	store    *store.Store
	model    string
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type GatewayConfig struct {
	Provider Provider
	Store    *store.Store
	Model    string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewGateway(cfg GatewayConfig) *Gateway {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Gateway{
		provider: cfg.Provider,
		store:    cfg.Store,
		model:    cfg.Model,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

type Reply struct {
	Content string
	Tokens  *document.TokenUsage
}

// Ask sends a general-assistant query: persisted system prompt plus the
// directive text with its prefix already stripped.
func (g *Gateway) Ask(ctx context.Context, message string) (Reply, error) {
	cfg, err := g.store.ReadBotConfig(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("read bot config: %w", err)
	}

	messages := []ChatMessage{}
	if cfg.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: cfg.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: message})

	return g.generate(ctx, ChatRequest{
		Model:            g.model,
		Messages:         messages,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
	})
}

// AskPoem sends a poetry recommendation query. The prompt is built from the
// resolved target (random, author, or keyword).
func (g *Gateway) AskPoem(ctx context.Context, message string) (Reply, error) {
	cfg, err := g.store.ReadBotConfig(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("read bot config: %w", err)
	}

	prompt, temperature := BuildPoemPrompt(message)
	return g.generate(ctx, ChatRequest{
		Model:       g.model,
		Messages:    []ChatMessage{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

func (g *Gateway) generate(ctx context.Context, req ChatRequest) (Reply, error) {
	g.metrics.BotRequests.Inc()
	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		g.metrics.BotFailures.Inc()
		g.logger.Error().Err(err).Str("model", req.Model).Msg("provider chat failed")
		return Reply{}, fmt.Errorf("bot backend: %w", err)
	}
	return Reply{Content: resp.Content, Tokens: resp.Usage}, nil
}
