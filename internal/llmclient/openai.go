package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient captures the subset of the go-openai client this adapter
// calls, matched by *openai.Client.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client over the OpenAI Chat Completions API.
type OpenAIClient struct {
	chat  ChatClient
	model string
}

// NewOpenAI builds a Client from an already-configured go-openai client.
func NewOpenAI(chat ChatClient, model string) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("llmclient: openai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("llmclient: model identifier is required")
	}
	return &OpenAIClient{chat: chat, model: model}, nil
}

// NewOpenAIFromAPIKey constructs a Client using the default go-openai HTTP
// client.
func NewOpenAIFromAPIKey(apiKey, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llmclient: api key is required")
	}
	return NewOpenAI(openai.NewClient(apiKey), model)
}

// Complete issues a single-turn chat completion request and returns the
// first choice's message content.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llmclient: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
