// Package rest implements scm.Client against a GitHub-compatible REST API
// over plain net/http, wrapped in a circuit breaker. No SCM client SDK
// appears in the pack's dependency surface (see DESIGN.md), so this talks
// REST the same minimal way the pack's ticket adapter talks GraphQL: a
// small typed request/response layer over net/http, not a hand-rolled
// HTTP framework.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taskreactor/orchestrator/external/scm"
	"github.com/taskreactor/orchestrator/internal/resilience"
)

// Client implements scm.Client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	breaker    *resilience.Breaker
}

// New constructs a Client. baseURL is the REST API root, e.g.
// "https://api.github.com".
func New(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      token,
		breaker:    resilience.New(resilience.DefaultConfig("scm")),
	}
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	return c.breaker.Execute(ctx, func() error {
		var reader *bytes.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("scm: marshal request: %w", err)
			}
			reader = bytes.NewReader(encoded)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("scm: build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("scm: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("scm: %s %s returned %d", method, path, resp.StatusCode)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("scm: decode response: %w", err)
			}
		}
		return nil
	})
}

type pullRequestDTO struct {
	Number  int    `json:"number"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	Title   string `json:"title"`
	Head    struct{ Ref string `json:"ref"` } `json:"head"`
	Base    struct{ Ref string `json:"ref"` } `json:"base"`
	Created string `json:"created_at"`
}

func (dto pullRequestDTO) toScm() scm.PullRequest {
	state := dto.State
	if dto.Merged {
		state = "merged"
	}
	return scm.PullRequest{
		Number: dto.Number, State: state, Title: dto.Title,
		Branch: dto.Head.Ref, BaseBranch: dto.Base.Ref, CreatedAt: dto.Created,
	}
}

// ListPullRequests implements scm.Client.
func (c *Client) ListPullRequests(ctx context.Context, repo, state, sort string) ([]scm.PullRequest, error) {
	q := url.Values{"state": {state}, "sort": {sort}}
	var dtos []pullRequestDTO
	if err := c.request(ctx, http.MethodGet, "/repos/"+repo+"/pulls?"+q.Encode(), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]scm.PullRequest, len(dtos))
	for i, d := range dtos {
		out[i] = d.toScm()
	}
	return out, nil
}

// GetPullRequest implements scm.Client.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (scm.PullRequest, error) {
	var dto pullRequestDTO
	path := "/repos/" + repo + "/pulls/" + strconv.Itoa(number)
	if err := c.request(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return scm.PullRequest{}, err
	}
	return dto.toScm(), nil
}

// ListPullRequestFiles implements scm.Client.
func (c *Client) ListPullRequestFiles(ctx context.Context, repo string, number int) ([]string, error) {
	var dtos []struct {
		Filename string `json:"filename"`
	}
	path := "/repos/" + repo + "/pulls/" + strconv.Itoa(number) + "/files"
	if err := c.request(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]string, len(dtos))
	for i, d := range dtos {
		out[i] = d.Filename
	}
	return out, nil
}

// CreatePullRequest implements scm.Client.
func (c *Client) CreatePullRequest(ctx context.Context, repo, branch, baseBranch, title, body string) (scm.PullRequest, error) {
	var dto pullRequestDTO
	payload := map[string]string{"title": title, "head": branch, "base": baseBranch, "body": body}
	if err := c.request(ctx, http.MethodPost, "/repos/"+repo+"/pulls", payload, &dto); err != nil {
		return scm.PullRequest{}, err
	}
	return dto.toScm(), nil
}

// AddPullRequestComment implements scm.Client.
func (c *Client) AddPullRequestComment(ctx context.Context, repo string, number int, body string) error {
	path := "/repos/" + repo + "/issues/" + strconv.Itoa(number) + "/comments"
	return c.request(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

// MergePullRequest implements scm.Client.
func (c *Client) MergePullRequest(ctx context.Context, repo string, number int) error {
	path := "/repos/" + repo + "/pulls/" + strconv.Itoa(number) + "/merge"
	return c.request(ctx, http.MethodPut, path, nil, nil)
}

// ListRecentCommits implements scm.Client.
func (c *Client) ListRecentCommits(ctx context.Context, repo, branch string, limit int) ([]scm.Commit, error) {
	q := url.Values{"sha": {branch}, "per_page": {strconv.Itoa(limit)}}
	var dtos []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := c.request(ctx, http.MethodGet, "/repos/"+repo+"/commits?"+q.Encode(), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]scm.Commit, len(dtos))
	for i, d := range dtos {
		out[i] = scm.Commit{SHA: d.SHA, Message: d.Commit.Message, Author: d.Commit.Author.Name}
	}
	return out, nil
}
