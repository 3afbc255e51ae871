// Package ticket defines the narrow capability this orchestrator needs from
// the ticket system, independent of its GraphQL wire shape (spec §6: "the
// core only relies on logical fields").
package ticket

import "context"

// Item is the logical shape of one ticket item the core cares about.
type Item struct {
	ItemID        string
	Name          string
	Description   string
	StatusLabel   string
	RepositoryURL string
	BaseBranch    string // may be empty
	CreatorName   string
	CreatorID     string
	CreatorEmail  string
}

// Update is one comment/update entry on an item.
type Update struct {
	Body        string
	CreatorName string
	CreatedAt   string // RFC3339, opaque beyond display/ordering
}

// Client is the capability the core needs from the ticket system.
type Client interface {
	GetItemInfo(ctx context.Context, itemID string) (Item, error)
	GetItemUpdates(ctx context.Context, itemID string) ([]Update, error)
	UpdateItemStatus(ctx context.Context, itemID, statusLabel string) error
	AddComment(ctx context.Context, itemID, body string) error
	ChangeColumnValue(ctx context.Context, itemID, columnID string, value any) error
}
