package llmclient

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicCompleteConcatenatesTextBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hello "}, {Type: "text", Text: "world"}},
	}}
	c, err := NewAnthropic(stub, "claude-3.5-sonnet", 0)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.Equal(t, sdk.Model("claude-3.5-sonnet"), stub.lastParams.Model)
}

func TestAnthropicCompletePropagatesError(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("rate limited")}
	c, err := NewAnthropic(stub, "claude-3.5-sonnet", 0)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "say hi")
	assert.ErrorContains(t, err, "rate limited")
}

type stubChatClient struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return s.resp, s.err
}

func TestOpenAICompleteReturnsFirstChoice(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "hi there"}}},
	}}
	c, err := NewOpenAI(stub, "gpt-4o")
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestOpenAICompleteErrorsOnEmptyChoices(t *testing.T) {
	c, err := NewOpenAI(&stubChatClient{}, "gpt-4o")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "say hi")
	assert.ErrorContains(t, err, "no choices")
}

type stubRuntimeClient struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (s *stubRuntimeClient) Converse(_ context.Context, _ *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.output, s.err
}

func TestBedrockCompleteConcatenatesTextBlocks(t *testing.T) {
	stub := &stubRuntimeClient{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "hello "},
					&brtypes.ContentBlockMemberText{Value: "world"},
				},
			},
		},
	}}
	c, err := NewBedrock(stub, "anthropic.claude-3-5-sonnet")
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestBedrockCompleteErrorsWithoutMessageOutput(t *testing.T) {
	stub := &stubRuntimeClient{output: &bedrockruntime.ConverseOutput{}}
	c, err := NewBedrock(stub, "anthropic.claude-3-5-sonnet")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "say hi")
	assert.ErrorContains(t, err, "no message")
}
