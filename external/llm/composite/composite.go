// Package composite implements the primary/fallback provider ladder called
// for by the REDESIGN FLAGS section: the ladder lives here, in one place,
// rather than scattered across call sites that would otherwise each need to
// know about every provider.
package composite

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskreactor/orchestrator/external/llm"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// Client tries each rung of a provider ladder in order, falling through to
// the next rung when a call fails with llm.ErrRateLimited or any other
// error. The first rung to succeed wins.
type Client struct {
	rungs  []llm.Client
	logger telemetry.Logger
}

// New builds a Client from an ordered ladder of providers. rungs[0] is tried
// first; at least one rung is required.
func New(logger telemetry.Logger, rungs ...llm.Client) (*Client, error) {
	if len(rungs) == 0 {
		return nil, errors.New("composite: at least one provider is required")
	}
	return &Client{rungs: rungs, logger: logger}, nil
}

// Complete tries each rung in order and returns the first success.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	var errs []error
	for i, rung := range c.rungs {
		resp, err := rung.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if c.logger != nil {
			c.logger.Warn(ctx, "llm provider failed, falling through to next rung",
				"rung", i, "error", err.Error())
		}
	}
	return llm.Response{}, fmt.Errorf("composite: all %d provider(s) failed: %w", len(c.rungs), errors.Join(errs...))
}

// Moderate walks the whole ladder. A rung whose Moderate is a documented
// no-op (returns nil unconditionally) is indistinguishable from "not
// flagged", so the ladder is tried top to bottom and the first rung that
// flags the text wins. A rung that fails with any other error is skipped;
// the last such error is returned only when no rung flags the text.
func (c *Client) Moderate(ctx context.Context, text string) error {
	var lastErr error
	for _, rung := range c.rungs {
		err := rung.Moderate(ctx, text)
		if err == nil {
			continue
		}
		if errors.Is(err, llm.ErrModerationBlocked) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
