package chatclient

import (
	"context"
	"strconv"
	"time"

	"verseroom/internal/directive"
	"verseroom/internal/document"
	"verseroom/internal/protocol"
)

// ThinkingText is the body of the local placeholder shown while a bot reply is
// pending.
const ThinkingText = "🤔 ...思考中..."

// Send publishes a composed message. Plain text goes straight to the room; a
// message carrying a bot directive additionally starts the bot workflow.
func (c *Client) Send(ctx context.Context, content string) error {
	if err := c.sendUserMessage(content); err != nil {
		return err
	}

	d := directive.Parse(content)
	switch d.Kind {
	case directive.KindBot:
		go c.runBotWorkflow(ctx, d.Query, document.BotUserID, document.BotUsername, c.cfg.Generator.Ask)
	case directive.KindPoem:
		go c.runBotWorkflow(ctx, d.Query, document.PoemBotUserID, document.PoemBotUsername, c.cfg.Generator.AskPoem)
	}
	return nil
}

func (c *Client) sendUserMessage(content string) error {
	return c.sendEvent(protocol.EventMessageSend, protocol.SendPayload{
		Content:  content,
		UserID:   c.cfg.Identity.ID,
		Username: c.cfg.Identity.Username,
		Type:     document.MessageTypeUser,
		AckID:    c.nextAckID(),
	})
}

// runBotWorkflow shows a placeholder, asks the generator, removes the
// placeholder, and then publishes the outcome so the whole room sees it. A
// failure still resolves to a bot message carrying the error text.
func (c *Client) runBotWorkflow(ctx context.Context, query, botID, botName string, ask func(ctx context.Context, message string) (string, *document.TokenUsage, error)) {
	placeholderID := c.addPlaceholder(botID, botName)
	reply, tokens, err := ask(ctx, query)
	c.removePlaceholder(placeholderID)

	if err != nil {
		c.cfg.Logger.Warn().Err(err).Str("bot", botID).Msg("bot request failed")
		reply = "抱歉，发生了错误：" + err.Error()
		tokens = nil
	}

	if err := c.sendEvent(protocol.EventMessageSend, protocol.SendPayload{
		Content:  reply,
		UserID:   botID,
		Username: botName,
		Type:     document.MessageTypeBot,
		Tokens:   tokens,
		AckID:    c.nextAckID(),
	}); err != nil {
		c.cfg.Logger.Warn().Err(err).Str("bot", botID).Msg("bot reply publish failed")
	}
}

// addPlaceholder inserts a thinking row and records its id, so concurrent bot
// requests each own exactly one placeholder.
func (c *Client) addPlaceholder(botID, botName string) string {
	now := time.Now()
	id := "placeholder-" + strconv.FormatInt(now.UnixNano(), 10)

	c.mu.Lock()
	c.placeholders[id] = struct{}{}
	c.messages = append(c.messages, Item{
		Message: document.Message{
			ID:        id,
			UserID:    botID,
			Username:  botName,
			Content:   ThinkingText,
			Timestamp: now.UnixMilli(),
			Type:      document.MessageTypeBot,
		},
		Placeholder: true,
	})
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
	return id
}

func (c *Client) removePlaceholder(id string) {
	c.mu.Lock()
	delete(c.placeholders, id)
	for i, it := range c.messages {
		if it.Placeholder && it.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}
