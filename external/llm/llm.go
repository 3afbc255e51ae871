// Package llm defines the LLMClient capability (spec §4 REDESIGN FLAGS:
// "define an LLMClient capability that exposes complete(prompt, schema) and
// moderate(text); the primary/fallback ladder lives in a composite
// implementation, not scattered at call sites"). Concrete adapters per
// provider live in sibling packages, grounded on the teacher's
// features/model/{anthropic,openai,bedrock} clients.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited is returned (wrapped) by a Client when the provider signals
// a rate limit, so a composite can decide to fail over to the next rung of
// the ladder.
var ErrRateLimited = errors.New("llm: rate limited")

// ErrModerationBlocked is returned by Moderate when text fails the safety
// check.
var ErrModerationBlocked = errors.New("llm: moderation blocked content")

// Request is a single text-completion call with a JSON-schema response
// contract.
type Request struct {
	Provider    string // filled in by the Response, not the caller
	Model       string // empty lets the adapter pick its configured default
	Prompt      string
	Schema      []byte // JSON schema the response must validate against; nil means free text
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting for one call, fed directly into the ledger.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the result of a successful Complete call.
type Response struct {
	Provider string
	Model    string
	Text     string // raw text; if Request.Schema was set, this is the JSON payload
	Usage    Usage
}

// Client is the capability every LLM provider adapter implements.
type Client interface {
	// Complete issues a text-completion call. When req.Schema is non-nil,
	// implementations validate the response against it
	// (github.com/santhosh-tekuri/jsonschema/v6) before returning, retrying
	// once with a corrective follow-up prompt on a validation failure.
	Complete(ctx context.Context, req Request) (Response, error)

	// Moderate checks text against the provider's safety endpoint. Returns
	// ErrModerationBlocked (wrapped) if the content is flagged.
	Moderate(ctx context.Context, text string) error
}
