package llmclient

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter calls, matched by *sdk.MessageService so callers can pass either
// the real client or a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewAnthropic builds a Client from an already-configured Anthropic
// Messages client.
func NewAnthropic(msg MessagesClient, model string, maxTokens int) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llmclient: anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("llmclient: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewAnthropicFromAPIKey constructs a Client using the default Anthropic
// HTTP client.
func NewAnthropicFromAPIKey(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmclient: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, model, 0)
}

// Complete issues a single-turn Messages.New request and concatenates the
// text blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
