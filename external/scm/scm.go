// Package scm defines the narrow capability this orchestrator needs from
// source-hosting (spec §6: "list pull requests, get PR by number, list PR
// files, create PR, add PR comment, merge PR, list recent commits").
package scm

import "context"

// PullRequest is the logical shape of one PR.
type PullRequest struct {
	Number    int
	State     string // "open" | "closed" | "merged"
	Title     string
	Branch    string
	BaseBranch string
	CreatedAt string
}

// Commit is one commit on a branch.
type Commit struct {
	SHA     string
	Message string
	Author  string
}

// Client is the capability the core needs from the source-hosting system.
type Client interface {
	ListPullRequests(ctx context.Context, repo, state, sort string) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, repo string, number int) (PullRequest, error)
	ListPullRequestFiles(ctx context.Context, repo string, number int) ([]string, error)
	CreatePullRequest(ctx context.Context, repo, branch, baseBranch, title, body string) (PullRequest, error)
	AddPullRequestComment(ctx context.Context, repo string, number int, body string) error
	MergePullRequest(ctx context.Context, repo string, number int) error
	ListRecentCommits(ctx context.Context, repo, branch string, limit int) ([]Commit, error)
}
