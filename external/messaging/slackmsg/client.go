// Package slackmsg implements messaging.Client on github.com/slack-go/slack,
// wrapped in a circuit breaker. This is strictly a notification channel
// (spec §6: "never a control channel") — the adapter exposes no inbound
// event handling.
package slackmsg

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/taskreactor/orchestrator/external/messaging"
	"github.com/taskreactor/orchestrator/internal/resilience"
)

// Client implements messaging.Client.
type Client struct {
	api     *slack.Client
	breaker *resilience.Breaker
}

// New constructs a Client authenticated with token.
func New(token string) *Client {
	return &Client{api: slack.New(token), breaker: resilience.New(resilience.DefaultConfig("messaging"))}
}

// LookupUserByEmail implements messaging.Client.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	var userID string
	err := c.breaker.Execute(ctx, func() error {
		user, err := c.api.GetUserByEmailContext(ctx, email)
		if err != nil {
			return fmt.Errorf("messaging: lookup user by email: %w", err)
		}
		userID = user.ID
		return nil
	})
	return userID, err
}

// OpenDirectChannel implements messaging.Client.
func (c *Client) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	var channelID string
	err := c.breaker.Execute(ctx, func() error {
		channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{userID},
		})
		if err != nil {
			return fmt.Errorf("messaging: open direct channel: %w", err)
		}
		channelID = channel.ID
		return nil
	})
	return channelID, err
}

// PostMessage implements messaging.Client.
func (c *Client) PostMessage(ctx context.Context, channelID string, blocks []messaging.Block) error {
	return c.breaker.Execute(ctx, func() error {
		var msgBlocks []slack.Block
		for _, b := range blocks {
			msgBlocks = append(msgBlocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, b.Text, false, false), nil, nil))
		}
		_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionBlocks(msgBlocks...))
		if err != nil {
			return fmt.Errorf("messaging: post message: %w", err)
		}
		return nil
	})
}
