package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/glwatch/internal/config"
	"github.com/lucasnoah/glwatch/internal/gitlab"
)

const (
	// DefaultTitle is used when neither a title nor a commit message exists.
	DefaultTitle = "Automated MR"

	// DefaultDescription replaces commit messages that are empty or longer
	// than MaxDescriptionLen.
	DefaultDescription = "Created from glwatch"

	MaxDescriptionLen = 1000
)

// ErrNoTarget is returned when no target branch is given.
var ErrNoTarget = errors.New("target branch is required")

// MergeRequestAPI is the slice of the GitLab client MR operations use.
type MergeRequestAPI interface {
	CreateMergeRequest(ctx context.Context, projectID int, opts gitlab.MergeRequestOptions) (*gitlab.CreatedMergeRequest, error)
	OpenMergeRequests(ctx context.Context, projects []gitlab.ProjectRef, target string) (map[string][]gitlab.MergeRequest, error)
}

// LocalRepo reads state from a project's local clone.
type LocalRepo interface {
	CurrentBranch(ctx context.Context, dir string) string
	LastCommitMessage(ctx context.Context, dir string) string
}

// MergeRequestOptions are the user inputs shared by every project of a
// batch. Empty Title and Description are derived from the last commit.
// An empty SourceBranch means each clone's checked-out branch.
type MergeRequestOptions struct {
	Target       string
	SourceBranch string
	Title        string
	Description  string
	AssigneeID   int
	Labels       []string
}

// MergeRequestResult is the outcome for one project.
type MergeRequestResult struct {
	Project      string `json:"project"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Title        string `json:"title"`
	WebURL       string `json:"web_url,omitempty"`
	OK           bool   `json:"ok"`
	Message      string `json:"message"`
}

// Opener opens merge requests for projects with local clones.
type Opener struct {
	api    MergeRequestAPI
	repo   LocalRepo
	limit  int
	logger *slog.Logger
}

// NewOpener creates an Opener.
func NewOpener(api MergeRequestAPI, repo LocalRepo, limit int, logger *slog.Logger) *Opener {
	if limit <= 0 {
		limit = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{api: api, repo: repo, limit: limit, logger: logger}
}

// Create opens one merge request per project into opts.Target. Failures are
// per project; the batch always runs to the end.
func (o *Opener) Create(ctx context.Context, projects []config.Project, opts MergeRequestOptions) ([]MergeRequestResult, error) {
	if opts.Target == "" {
		return nil, ErrNoTarget
	}

	results := make([]MergeRequestResult, len(projects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	for i, p := range projects {
		g.Go(func() error {
			results[i] = o.create(ctx, p, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (o *Opener) create(ctx context.Context, p config.Project, opts MergeRequestOptions) MergeRequestResult {
	res := MergeRequestResult{Project: p.Name, TargetBranch: opts.Target}

	if p.LocalRepoPath == "" && (opts.SourceBranch == "" || opts.Title == "") {
		res.Message = "no local_repo_path configured"
		return res
	}

	source := opts.SourceBranch
	if source == "" {
		source = o.repo.CurrentBranch(ctx, p.LocalRepoPath)
		if source == "" {
			res.Message = "cannot determine checked-out branch of " + p.LocalRepoPath
			return res
		}
	}
	res.SourceBranch = source

	var commitMsg string
	if p.LocalRepoPath != "" && (opts.Title == "" || opts.Description == "") {
		commitMsg = o.repo.LastCommitMessage(ctx, p.LocalRepoPath)
	}
	res.Title = Title(opts.Title, commitMsg)

	created, err := o.api.CreateMergeRequest(ctx, p.ID, gitlab.MergeRequestOptions{
		SourceBranch: source,
		TargetBranch: opts.Target,
		Title:        res.Title,
		Description:  Description(opts.Description, commitMsg),
		AssigneeID:   opts.AssigneeID,
		ReviewerIDs:  reviewers(opts.AssigneeID),
		Labels:       opts.Labels,
	})
	if err != nil {
		o.logger.Warn("merge request create failed", "project", p.Name, "source", source, "target", opts.Target, "error", err)
		res.Message = errorMessage(err)
		return res
	}
	res.OK = true
	res.WebURL = created.WebURL
	res.Message = "MR created successfully"
	return res
}

func reviewers(assignee int) []int {
	if assignee <= 0 {
		return nil
	}
	return []int{assignee}
}

func errorMessage(err error) string {
	var apiErr *gitlab.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// Title returns explicit when set, else the first line of the commit
// message, else DefaultTitle.
func Title(explicit, commitMsg string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	first, _, _ := strings.Cut(commitMsg, "\n")
	if t := strings.TrimSpace(first); t != "" {
		return t
	}
	return DefaultTitle
}

// Description returns explicit when set, else the commit message unless it
// is empty or too long.
func Description(explicit, commitMsg string) string {
	if d := strings.TrimSpace(explicit); d != "" {
		return d
	}
	if commitMsg == "" || len(commitMsg) > MaxDescriptionLen {
		return DefaultDescription
	}
	return strings.TrimSpace(commitMsg)
}

// Summarize counts successes and failures.
func Summarize(results []MergeRequestResult) (ok, failed int) {
	for _, r := range results {
		if r.OK {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// OpenMergeRequest is an open merge request of one project.
type OpenMergeRequest struct {
	Project      string    `json:"project"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Assignees    []string  `json:"assignees"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	CreatedAt    time.Time `json:"created_at"`
	WebURL       string    `json:"web_url"`
}

// ListOpen returns the open merge requests targeting target, grouped in
// project order, newest first within a project.
func (o *Opener) ListOpen(ctx context.Context, projects []gitlab.ProjectRef, target string) ([]OpenMergeRequest, error) {
	if target == "" {
		return nil, ErrNoTarget
	}
	byProject, err := o.api.OpenMergeRequests(ctx, projects, target)
	if err != nil {
		return nil, fmt.Errorf("list open merge requests: %w", err)
	}

	var out []OpenMergeRequest
	for _, p := range projects {
		for _, mr := range byProject[p.Name] {
			out = append(out, OpenMergeRequest{
				Project:      p.Name,
				Title:        mr.Title,
				Author:       mr.AuthorName(),
				Assignees:    mr.AssigneeNames(),
				SourceBranch: mr.SourceBranch,
				TargetBranch: mr.TargetBranch,
				CreatedAt:    mr.CreatedAt.Time,
				WebURL:       mr.WebURL,
			})
		}
	}
	return out, nil
}
