package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yuhi-sa/daily-briefing/internal/retry"
)

// Enough for a sectioned briefing; summaries stop far earlier.
const maxCompletionTokens = 1500

type OpenAI struct {
	client *openai.Client
	model  string
}

var _ Backend = (*OpenAI)(nil)

// NewOpenAI builds a chat-completion backend. An empty baseURL uses the
// public API; httpClient may be nil.
func NewOpenAI(apiKey, model, baseURL string, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxCompletionTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classifyOpenAIError marks client errors other than rate limiting as permanent.
func classifyOpenAIError(err error) error {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("openai request rejected: %w", err))
	}
	return fmt.Errorf("openai request failed: %w", err)
}
