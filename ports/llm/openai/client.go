// Package openai implements ports.LLM on top of the OpenAI Chat Completions
// API, following the same narrow-client-interface adapter shape as
// ports/llm/anthropic.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/atomexec/ports"
)

// ChatClient captures the subset of the openai-go client used by this
// adapter, so tests can substitute a mock.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the adapter's default model.
type Options struct {
	Model string
}

// Client implements ports.LLM via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed ports.LLM from a chat client and options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.Model)
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	return &Client{chat: chat, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client,
// reading OPENAI_API_KEY from the environment when apiKey is empty.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	c := sdk.NewClient(opts...)
	return New(&c.Chat.Completions, Options{Model: model})
}

// Generate implements ports.LLM.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, ports.Usage, error) {
	if prompt == "" {
		return "", ports.Usage{}, errors.New("openai: prompt is required")
	}
	if maxTokens <= 0 {
		return "", ports.Usage{}, errors.New("openai: max_tokens must be positive")
	}
	params := sdk.ChatCompletionNewParams{
		Model: c.model,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
		MaxTokens: sdk.Int(int64(maxTokens)),
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return text, ports.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
