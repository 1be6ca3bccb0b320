// Package forge verifies inbound webhook signatures and makes the
// small set of outbound calls centrix-ci needs against the forge
// (commit-status callbacks, PR comments). It holds no state of its own.
package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"go.uber.org/zap"
)

// Client posts build results back to the forge. A nil *Client (from
// NewClient with an empty token) makes every call a no-op — centrix-ci
// runs fine without forge write access, just without status feedback.
type Client struct {
	gh           *github.Client
	dashboardURL string
	logger       *zap.Logger
}

// NewClient creates a forge Client authenticated with token. Returns
// nil if token is empty, so callers can check `client == nil` to skip
// outbound calls entirely rather than branching on a separate flag.
func NewClient(token, dashboardURL string, logger *zap.Logger) *Client {
	if token == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gh:           github.NewClient(nil).WithAuthToken(token),
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// Status mirrors the subset of GitHub's commit status API centrix-ci uses.
// TargetURL overrides the client's configured dashboard URL when set.
type Status struct {
	State       string // "pending", "success", "failure", "error"
	Description string
	Context     string
	TargetURL   string
}

// PostStatus posts a commit status for repo ("owner/name") and sha.
// Failures are logged at WARN and otherwise swallowed — a forge
// collaborator outage must never fail a build (§7).
func (c *Client) PostStatus(ctx context.Context, repo, sha string, st Status) {
	if c == nil {
		return
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		c.logger.Warn("forge: cannot post status", zap.Error(err))
		return
	}

	input := &github.RepoStatus{
		State:       github.Ptr(st.State),
		Description: github.Ptr(st.Description),
		Context:     github.Ptr(st.Context),
	}
	if st.TargetURL != "" {
		input.TargetURL = github.Ptr(st.TargetURL)
	} else if c.dashboardURL != "" {
		input.TargetURL = github.Ptr(c.dashboardURL)
	}

	if _, _, err := c.gh.Repositories.CreateStatus(ctx, owner, name, sha, input); err != nil {
		c.logger.Warn("forge: post status failed",
			zap.String("repo", repo), zap.String("sha", sha), zap.Error(err))
	}
}

// PostComment posts a comment on a pull request. Failures are logged at
// WARN and swallowed, matching PostStatus's error handling.
func (c *Client) PostComment(ctx context.Context, repo string, prNumber int, body string) {
	if c == nil {
		return
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		c.logger.Warn("forge: cannot post comment", zap.Error(err))
		return
	}

	if _, _, err := c.gh.Issues.CreateComment(ctx, owner, name, prNumber, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		c.logger.Warn("forge: post comment failed",
			zap.String("repo", repo), zap.Int("pr", prNumber), zap.Error(err))
	}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed forge repo %q, want owner/name", repo)
	}
	return parts[0], parts[1], nil
}
