// Package bedrock implements llm.Client on top of the AWS Bedrock Converse
// API, scoped down from the teacher's tool-calling adapter to plain text
// completion plus schema validation. Bedrock has no moderation endpoint, so
// Moderate is a documented no-op here, same as the Anthropic adapter.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/taskreactor/orchestrator/external/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// the adapter, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures optional adapter defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llm.Client against AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

// New builds a Client from an already-constructed Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete implements llm.Client, with the same schema-validate-and-retry-once
// behavior as the other provider adapters.
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
			return llm.Response{}, fmt.Errorf("bedrock: response failed schema validation after retry: %w", verr)
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
	temp := float32(req.Temperature)
	if temp == 0 {
		temp = c.temp
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{},
	}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		input.InferenceConfig.MaxTokens = &mt
	}
	if temp > 0 {
		input.InferenceConfig.Temperature = &temp
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return llm.Response{}, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return llm.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(output, modelID)
}

// Moderate has no Bedrock Converse equivalent; the composite client routes
// moderation to external/llm/openai instead.
func (c *Client) Moderate(context.Context, string) error {
	return nil
}

func isRateLimited(err error) bool {
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func ptrValue(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

func translateResponse(output *bedrockruntime.ConverseOutput, modelID string) (llm.Response, error) {
	if output == nil {
		return llm.Response{}, errors.New("bedrock: response output is nil")
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return llm.Response{}, errors.New("bedrock: unexpected response output shape")
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	resp := llm.Response{Provider: "bedrock", Model: modelID, Text: text}
	if output.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(ptrValue(output.Usage.InputTokens)),
			OutputTokens: int(ptrValue(output.Usage.OutputTokens)),
		}
	}
	return resp, nil
}
