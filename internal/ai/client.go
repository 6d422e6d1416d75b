package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/go-resty/resty/v2"
)

// Completer produces the assistant's next reply.
type Completer interface {
	Complete(ctx context.Context, p Prompt, history []Turn, message string) (string, error)
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	http         *resty.Client
	defaultModel string
	log          *slog.Logger
}

func NewOpenAIClient(baseURL, apiKey, defaultModel string, timeout time.Duration, log *slog.Logger) (*OpenAIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ai baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ai apiKey cannot be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetTimeout(timeout)
	return &OpenAIClient{http: client, defaultModel: defaultModel, log: log}, nil
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Turn `json:"message"`
	} `json:"choices"`
}

// BuildMessages assembles the system prompt, the most recent history turns
// and the new user message.
func BuildMessages(p Prompt, history []Turn, message string) []Turn {
	if p.HistoryLimit > 0 && len(history) > p.HistoryLimit {
		history = history[len(history)-p.HistoryLimit:]
	}
	out := make([]Turn, 0, len(history)+2)
	if p.Instructions != "" {
		out = append(out, Turn{Role: RoleSystem, Content: p.Instructions})
	}
	out = append(out, history...)
	return append(out, Turn{Role: RoleUser, Content: message})
}

func (c *OpenAIClient) Complete(ctx context.Context, p Prompt, history []Turn, message string) (string, error) {
	const op = "ai.Complete"
	model := p.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", apperr.Validation(op, "prompt %s has no model", p.ID)
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       model,
			Messages:    BuildMessages(p, history, message),
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		}).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		c.log.Error("ai completion request failed", "prompt_id", p.ID, "err", err)
		return "", apperr.Transport(op, err)
	}
	if resp.IsError() {
		c.log.Error("ai completion returned an error", "prompt_id", p.ID, "status", resp.StatusCode())
		return "", apperr.Transport(op, fmt.Errorf("status %s", resp.Status()))
	}
	if len(out.Choices) == 0 {
		return "", apperr.Transport(op, fmt.Errorf("empty completion"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
