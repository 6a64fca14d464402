package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient captures the subset of the AWS Bedrock runtime client this
// adapter calls, matched by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client over the AWS Bedrock Converse API.
type BedrockClient struct {
	runtime RuntimeClient
	modelID string
}

// NewBedrock builds a Client from an already-configured Bedrock runtime
// client.
func NewBedrock(runtime RuntimeClient, modelID string) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("llmclient: bedrock runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("llmclient: model identifier is required")
	}
	return &BedrockClient{runtime: runtime, modelID: modelID}, nil
}

// Complete issues a single-turn Converse request and concatenates the text
// blocks of the assistant's reply.
func (c *BedrockClient) Complete(ctx context.Context, prompt string) (string, error) {
	output, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: bedrock converse: %w", err)
	}

	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("llmclient: bedrock response carried no message")
	}

	var out string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out += tb.Value
		}
	}
	return out, nil
}
