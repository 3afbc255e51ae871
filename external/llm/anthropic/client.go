// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API, scoped down from the teacher's tool-calling/streaming
// adapter to plain text completion plus schema validation. Moderate is a
// documented no-op (Anthropic has no moderation endpoint).
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/taskreactor/orchestrator/external/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures optional adapter defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements llm.Client against Anthropic Claude.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
	temp         float64
}

// New builds a Client from an already-constructed Anthropic messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client,
// reading apiKey directly rather than from the environment.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int, temperature float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: maxTokens, Temperature: temperature})
}

// Complete implements llm.Client. When req.Schema is set, the response is
// validated against it and, on failure, retried once with a corrective
// follow-up prompt appended to the conversation.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := c.complete(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	if len(req.Schema) == 0 {
		return resp, nil
	}
	if verr := llm.ValidateAgainstSchema([]byte(resp.Text), req.Schema); verr != nil {
		corrective := req
		corrective.Prompt = fmt.Sprintf("%s\n\nYour previous response did not satisfy the required JSON schema (%v). Reply again with only valid JSON matching the schema.", req.Prompt, verr)
		resp, err = c.complete(ctx, corrective)
		if err != nil {
			return llm.Response{}, err
		}
		if verr := llm.ValidateAgainstSchema([]byte(resp.Text), req.Schema); verr != nil {
			return llm.Response{}, fmt.Errorf("anthropic: response failed schema validation after retry: %w", verr)
		}
	}
	return resp, nil
}

func (c *Client) complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return llm.Response{}, errors.New("anthropic: max_tokens must be positive")
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temp
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return llm.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, modelID)
}

// Moderate has no dedicated Anthropic endpoint; the composite client routes
// moderation to a provider that has one (external/llm/openai). Calling this
// directly always succeeds, matching the teacher's pattern of a capability
// method that is a documented no-op for providers that lack the feature.
func (c *Client) Moderate(context.Context, string) error {
	return nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

func translateResponse(msg *sdk.Message, modelID string) (llm.Response, error) {
	if msg == nil {
		return llm.Response{}, errors.New("anthropic: response message is nil")
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return llm.Response{
		Provider: "anthropic",
		Model:    modelID,
		Text:     text,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
