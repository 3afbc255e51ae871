// Package graphql implements ticket.Client against a GraphQL ticket-system
// API over plain HTTP, wrapped in a circuit breaker. No GraphQL client
// library appears as a direct dependency anywhere in the pack (only an
// indirect shurcooL-graphql pulled in by unrelated tooling), so this talks
// GraphQL the way a minimal Go client typically does: POST a
// {query, variables} JSON body, decode {data, errors} — see DESIGN.md.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskreactor/orchestrator/external/ticket"
	"github.com/taskreactor/orchestrator/internal/resilience"
)

// Client implements ticket.Client.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	breaker    *resilience.Breaker
}

// New constructs a Client. endpoint is the ticket system's GraphQL URL.
func New(endpoint, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
		token:      token,
		breaker:    resilience.New(resilience.DefaultConfig("ticket")),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	return c.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
		if err != nil {
			return fmt.Errorf("ticket: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ticket: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ticket: request failed: %w", err)
		}
		defer resp.Body.Close()

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("ticket: decode response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("ticket: graphql error: %s", envelope.Errors[0].Message)
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("ticket: unmarshal data: %w", err)
			}
		}
		return nil
	})
}

// GetItemInfo implements ticket.Client.
func (c *Client) GetItemInfo(ctx context.Context, itemID string) (ticket.Item, error) {
	var result struct {
		Items []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			ColumnValues  []struct {
				ID    string `json:"id"`
				Text  string `json:"text"`
				Value string `json:"value"`
			} `json:"column_values"`
			Creator struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"creator"`
		} `json:"items"`
	}
	if err := c.do(ctx, itemInfoQuery, map[string]any{"itemId": itemID}, &result); err != nil {
		return ticket.Item{}, err
	}
	if len(result.Items) == 0 {
		return ticket.Item{}, fmt.Errorf("ticket: item %q not found", itemID)
	}
	item := result.Items[0]
	out := ticket.Item{ItemID: item.ID, Name: item.Name, CreatorID: item.Creator.ID,
		CreatorName: item.Creator.Name, CreatorEmail: item.Creator.Email}
	for _, cv := range item.ColumnValues {
		switch cv.ID {
		case "status":
			out.StatusLabel = cv.Text
		case "repository_url":
			out.RepositoryURL = cv.Text
		case "base_branch":
			out.BaseBranch = cv.Text
		case "description":
			out.Description = cv.Text
		}
	}
	return out, nil
}

// GetItemUpdates implements ticket.Client.
func (c *Client) GetItemUpdates(ctx context.Context, itemID string) ([]ticket.Update, error) {
	var result struct {
		Items []struct {
			Updates []struct {
				Body      string `json:"text_body"`
				CreatedAt string `json:"created_at"`
				Creator   struct {
					Name string `json:"name"`
				} `json:"creator"`
			} `json:"updates"`
		} `json:"items"`
	}
	if err := c.do(ctx, itemUpdatesQuery, map[string]any{"itemId": itemID}, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	out := make([]ticket.Update, 0, len(result.Items[0].Updates))
	for _, u := range result.Items[0].Updates {
		out = append(out, ticket.Update{Body: u.Body, CreatorName: u.Creator.Name, CreatedAt: u.CreatedAt})
	}
	return out, nil
}

// UpdateItemStatus implements ticket.Client.
func (c *Client) UpdateItemStatus(ctx context.Context, itemID, statusLabel string) error {
	return c.do(ctx, changeColumnValueMutation, map[string]any{
		"itemId": itemID, "columnId": "status", "value": statusLabel,
	}, nil)
}

// AddComment implements ticket.Client.
func (c *Client) AddComment(ctx context.Context, itemID, body string) error {
	return c.do(ctx, addCommentMutation, map[string]any{"itemId": itemID, "body": body}, nil)
}

// ChangeColumnValue implements ticket.Client.
func (c *Client) ChangeColumnValue(ctx context.Context, itemID, columnID string, value any) error {
	return c.do(ctx, changeColumnValueMutation, map[string]any{
		"itemId": itemID, "columnId": columnID, "value": value,
	}, nil)
}

const (
	itemInfoQuery = `query($itemId: ID!) { items(ids: [$itemId]) {
		id name column_values { id text value } creator { id name email }
	} }`
	itemUpdatesQuery = `query($itemId: ID!) { items(ids: [$itemId]) {
		updates { text_body created_at creator { name } }
	} }`
	changeColumnValueMutation = `mutation($itemId: ID!, $columnId: String!, $value: JSON!) {
		change_column_value(item_id: $itemId, column_id: $columnId, value: $value) { id }
	}`
	addCommentMutation = `mutation($itemId: ID!, $body: String!) {
		create_update(item_id: $itemId, body: $body) { id }
	}`
)
