package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"verseroom/internal/document"
)

// HTTPGenerator calls the server's bot endpoints on behalf of the client.
type HTTPGenerator struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

var _ Generator = (*HTTPGenerator)(nil)

func NewHTTPGenerator(baseURL, token string) *HTTPGenerator {
	return &HTTPGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *HTTPGenerator) Ask(ctx context.Context, message string) (string, *document.TokenUsage, error) {
	return g.call(ctx, "/api/bot", message)
}

func (g *HTTPGenerator) AskPoem(ctx context.Context, message string) (string, *document.TokenUsage, error) {
	return g.call(ctx, "/api/poemBot", message)
}

func (g *HTTPGenerator) call(ctx context.Context, path, message string) (string, *document.TokenUsage, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("bot request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", nil, fmt.Errorf("read bot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return "", nil, fmt.Errorf("bot request failed: %s", apiErr.Message)
		}
		return "", nil, fmt.Errorf("bot request failed: status %d", resp.StatusCode)
	}

	var out struct {
		Message string               `json:"message"`
		Tokens  *document.TokenUsage `json:"tokens"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", nil, fmt.Errorf("decode bot response: %w", err)
	}
	return out.Message, out.Tokens, nil
}
