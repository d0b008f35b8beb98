// Package anthropic implements ports.LLM on top of the Anthropic Claude
// Messages API, adapted from the provider adapter pattern used throughout
// the runtime's model clients: a narrow interface over the concrete SDK
// client so tests can substitute a mock, plus an Options struct carrying
// provider defaults.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/atomexec/ports"
)

// MessagesClient captures the subset of the Anthropic SDK client used by
// this adapter, so callers can pass either a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter's default model.
type Options struct {
	// Model is the Claude model identifier used for every Generate call.
	Model string
}

// Client implements ports.LLM on top of Anthropic Claude Messages.
type Client struct {
	msg   MessagesClient
	model string
}

// New builds an Anthropic-backed ports.LLM from a Messages client and
// options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	return &Client{msg: msg, model: opts.Model}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client,
// reading ANTHROPIC_API_KEY and related defaults from the environment.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	ac := sdk.NewClient(opts...)
	return New(&ac.Messages, Options{Model: model})
}

// Generate implements ports.LLM.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, ports.Usage, error) {
	if prompt == "" {
		return "", ports.Usage{}, errors.New("anthropic: prompt is required")
	}
	if maxTokens <= 0 {
		return "", ports.Usage{}, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return "", ports.Usage{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", ports.Usage{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	usage := ports.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return text, usage, nil
}

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers must not retry in a tight loop.
var ErrRateLimited = errors.New("anthropic: rate limited")

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
