package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// CurrentUser returns the user the token belongs to. It doubles as token
// validation.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.Get(ctx, "/user", &u); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return &u, nil
}

// Compare returns the commits reachable from to but not from from.
func (c *Client) Compare(ctx context.Context, projectID int, from, to string) (*Comparison, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	var cmp Comparison
	path := fmt.Sprintf("/projects/%d/repository/compare?%s", projectID, q.Encode())
	if err := c.Get(ctx, path, &cmp); err != nil {
		return nil, fmt.Errorf("compare %s..%s in project %d: %w", from, to, projectID, err)
	}
	return &cmp, nil
}

// GetBranch fetches a branch. A missing branch yields an error satisfying
// IsNotFound.
func (c *Client) GetBranch(ctx context.Context, projectID int, name string) (*Branch, error) {
	var b Branch
	path := fmt.Sprintf("/projects/%d/repository/branches/%s", projectID, url.PathEscape(name))
	if err := c.Get(ctx, path, &b); err != nil {
		return nil, fmt.Errorf("get branch %s in project %d: %w", name, projectID, err)
	}
	return &b, nil
}

// CreateBranch creates name from ref. GitLab answers 400 when the branch
// already exists; callers detect that with IsBadRequest.
func (c *Client) CreateBranch(ctx context.Context, projectID int, name, ref string) (*Branch, error) {
	var b Branch
	body := map[string]string{"branch": name, "ref": ref}
	if err := c.Post(ctx, fmt.Sprintf("/projects/%d/repository/branches", projectID), body, &b); err != nil {
		return nil, fmt.Errorf("create branch %s in project %d: %w", name, projectID, err)
	}
	return &b, nil
}

// MaintainerAccess is the GitLab access level for maintainers.
const MaintainerAccess = 40

// ProtectBranch restricts push and merge on name to maintainers.
func (c *Client) ProtectBranch(ctx context.Context, projectID int, name string) error {
	body := map[string]any{
		"name":               name,
		"push_access_level":  MaintainerAccess,
		"merge_access_level": MaintainerAccess,
	}
	if err := c.Post(ctx, fmt.Sprintf("/projects/%d/protected_branches", projectID), body, nil); err != nil {
		return fmt.Errorf("protect branch %s in project %d: %w", name, projectID, err)
	}
	return nil
}

// MergeRequestOptions describes a merge request to open.
type MergeRequestOptions struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	AssigneeID   int
	ReviewerIDs  []int
	Labels       []string
}

// CreatedMergeRequest is the REST merge request resource returned on create.
type CreatedMergeRequest struct {
	ID     int    `json:"id"`
	IID    int    `json:"iid"`
	Title  string `json:"title"`
	WebURL string `json:"web_url"`
	State  string `json:"state"`
}

// CreateMergeRequest opens a merge request in the project.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int, opts MergeRequestOptions) (*CreatedMergeRequest, error) {
	body := map[string]any{
		"source_branch": opts.SourceBranch,
		"target_branch": opts.TargetBranch,
		"title":         opts.Title,
		"description":   opts.Description,
	}
	if opts.AssigneeID > 0 {
		body["assignee_id"] = opts.AssigneeID
	}
	if len(opts.ReviewerIDs) > 0 {
		body["reviewer_ids"] = opts.ReviewerIDs
	}
	if len(opts.Labels) > 0 {
		body["labels"] = strings.Join(opts.Labels, ",")
	}

	var mr CreatedMergeRequest
	if err := c.Post(ctx, "/projects/"+strconv.Itoa(projectID)+"/merge_requests", body, &mr); err != nil {
		return nil, fmt.Errorf("create merge request %s -> %s in project %d: %w",
			opts.SourceBranch, opts.TargetBranch, projectID, err)
	}
	return &mr, nil
}
