// Package openai implements llm.Client on top of the OpenAI Chat
// Completions and Moderations APIs. This is the provider routed to for
// Moderate, since OpenAI exposes a dedicated moderation endpoint that
// Anthropic does not.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/taskreactor/orchestrator/external/llm"
)

// ChatClient captures the subset of the OpenAI SDK used for completions,
// satisfied by the real client's Chat.Completions service.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// ModerationClient captures the moderation endpoint, satisfied by the real
// client's Moderations service.
type ModerationClient interface {
	New(ctx context.Context, body sdk.ModerationNewParams, opts ...option.RequestOption) (*sdk.ModerationNewResponse, error)
}

// Options configures optional adapter defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements llm.Client against OpenAI.
type Client struct {
	chat         ChatClient
	moderation   ModerationClient
	defaultModel string
	maxTok       int
	temp         float64
}

// New builds a Client from already-constructed chat and moderation clients.
func New(chat ChatClient, moderation ModerationClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, moderation: moderation, defaultModel: modelID, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int, temperature float64) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(oc.Chat.Completions, oc.Moderations, Options{DefaultModel: defaultModel, MaxTokens: maxTokens, Temperature: temperature})
}

// Complete implements llm.Client, with the same schema-validate-and-retry-once
// behavior as the Anthropic adapter.
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
			return llm.Response{}, fmt.Errorf("openai: response failed schema validation after retry: %w", verr)
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
	temp := req.Temperature
	if temp == 0 {
		temp = c.temp
	}

	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(modelID),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(req.Prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return llm.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp, modelID), nil
}

// Moderate flags text via OpenAI's moderation endpoint.
func (c *Client) Moderate(ctx context.Context, text string) error {
	if c.moderation == nil {
		return nil
	}
	resp, err := c.moderation.New(ctx, sdk.ModerationNewParams{Input: sdk.ModerationNewParamsInputUnion{OfString: sdk.String(text)}})
	if err != nil {
		return fmt.Errorf("openai: moderation: %w", err)
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return llm.ErrModerationBlocked
		}
	}
	return nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

func translateResponse(resp *sdk.ChatCompletion, modelID string) llm.Response {
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return llm.Response{
		Provider: "openai",
		Model:    modelID,
		Text:     text,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
}
