// Package messaging defines the narrow capability this orchestrator needs
// for outbound notifications (spec §6: "lookup user by email, open direct
// channel, post message with structured blocks; only used for
// notifications, never a control channel").
package messaging

import "context"

// Block is one structured message block, opaque beyond what the concrete
// backend needs to render it.
type Block struct {
	Kind string // "section" | "context" | "divider" | ...
	Text string
}

// Client is the capability the core needs from the messaging system.
type Client interface {
	// LookupUserByEmail returns the backend's internal user id for email.
	LookupUserByEmail(ctx context.Context, email string) (userID string, err error)

	// OpenDirectChannel returns a channel id for a direct message to userID.
	OpenDirectChannel(ctx context.Context, userID string) (channelID string, err error)

	// PostMessage posts blocks to channelID as a notification.
	PostMessage(ctx context.Context, channelID string, blocks []Block) error
}
