// Package bedrock implements ports.LLM on top of the AWS Bedrock Converse
// API, following the same narrow-client-interface adapter shape as
// ports/llm/anthropic and ports/llm/openai.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/atomexec/ports"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// this adapter. It is satisfied by *bedrockruntime.Client so tests can pass
// a mock.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter's default model.
type Options struct {
	Model string
}

// Client implements ports.LLM via the AWS Bedrock Converse API.
type Client struct {
	runtime RuntimeClient
	model   string
}

// New builds a Bedrock-backed ports.LLM from a runtime client and options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{runtime: runtime, model: opts.Model}, nil
}

// Generate implements ports.LLM.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, ports.Usage, error) {
	if prompt == "" {
		return "", ports.Usage{}, errors.New("bedrock: prompt is required")
	}
	if maxTokens <= 0 {
		return "", ports.Usage{}, errors.New("bedrock: max_tokens must be positive")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(temperature))
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("bedrock converse: %w", err)
	}
	text, err := extractText(out)
	if err != nil {
		return "", ports.Usage{}, err
	}
	usage := ports.Usage{}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return text, usage, nil
}

func extractText(out *bedrockruntime.ConverseOutput) (string, error) {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response contained no message output")
	}
	var text string
	for _, block := range msgOutput.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}
