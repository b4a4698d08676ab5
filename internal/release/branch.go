// Package release holds the multi-project release chores: cutting a branch
// in every selected project and opening merge requests from local clones.
package release

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/glwatch/internal/gitlab"
)

// Branch statuses.
const (
	BranchCreated  = "Created"
	BranchExists   = "Exists"
	BranchFailed   = "Failed"
	BranchMerged   = "Merged"
	BranchNotFound = "Not Found"
)

// Protection statuses.
const (
	Protected       = "Protected"
	Unprotected     = "-"
	ProtectionError = "Failed"
)

// ErrEmptyBranchName is returned when no branch name is given.
var ErrEmptyBranchName = errors.New("branch name is required")

// BranchAPI is the slice of the GitLab client branch operations use.
type BranchAPI interface {
	CreateBranch(ctx context.Context, projectID int, name, ref string) (*gitlab.Branch, error)
	ProtectBranch(ctx context.Context, projectID int, name string) error
	GetBranch(ctx context.Context, projectID int, name string) (*gitlab.Branch, error)
}

// BranchResult is the outcome for one project.
type BranchResult struct {
	Project    string `json:"project"`
	ProjectID  int    `json:"project_id"`
	Branch     string `json:"branch"`
	Status     string `json:"status"`
	Protection string `json:"protection"`
	WebURL     string `json:"web_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BranchOptions describes a branch to create.
type BranchOptions struct {
	Name    string
	From    string
	Protect bool
}

// Brancher creates and inspects a branch across projects.
type Brancher struct {
	api    BranchAPI
	limit  int
	logger *slog.Logger
}

// NewBrancher creates a Brancher issuing at most limit requests at once.
func NewBrancher(api BranchAPI, limit int, logger *slog.Logger) *Brancher {
	if limit <= 0 {
		limit = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Brancher{api: api, limit: limit, logger: logger}
}

// Create cuts opts.Name from opts.From in every project. A branch that
// already exists is reported as Exists, not as a failure. With Protect set,
// branches not already protected are restricted to maintainers. Results are
// in project order.
func (b *Brancher) Create(ctx context.Context, projects []gitlab.ProjectRef, opts BranchOptions) ([]BranchResult, error) {
	if opts.Name == "" {
		return nil, ErrEmptyBranchName
	}
	if opts.From == "" {
		return nil, errors.New("base ref is required")
	}

	results := make([]BranchResult, len(projects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i, p := range projects {
		g.Go(func() error {
			results[i] = b.create(ctx, p, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (b *Brancher) create(ctx context.Context, p gitlab.ProjectRef, opts BranchOptions) BranchResult {
	res := BranchResult{Project: p.Name, ProjectID: p.ID, Branch: opts.Name, Protection: Unprotected}

	created, err := b.api.CreateBranch(ctx, p.ID, opts.Name, opts.From)
	switch {
	case err == nil:
		res.Status = BranchCreated
		res.WebURL = created.WebURL
		if created.Protected {
			res.Protection = Protected
		}
	case gitlab.IsBadRequest(err):
		res.Status = BranchExists
	default:
		b.logger.Warn("branch create failed", "project", p.Name, "branch", opts.Name, "error", err)
		res.Status = BranchFailed
		res.Error = err.Error()
		return res
	}

	if opts.Protect && res.Protection != Protected {
		if err := b.api.ProtectBranch(ctx, p.ID, opts.Name); err != nil {
			b.logger.Warn("branch protect failed", "project", p.Name, "branch", opts.Name, "error", err)
			res.Protection = ProtectionError
			res.Error = err.Error()
		} else {
			res.Protection = Protected
		}
	}
	return res
}

// Status reports, per project, whether name is Merged, Exists, or Not Found.
// Any lookup failure reads as Not Found.
func (b *Brancher) Status(ctx context.Context, projects []gitlab.ProjectRef, name string) ([]BranchResult, error) {
	if name == "" {
		return nil, ErrEmptyBranchName
	}

	results := make([]BranchResult, len(projects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i, p := range projects {
		g.Go(func() error {
			res := BranchResult{Project: p.Name, ProjectID: p.ID, Branch: name, Status: BranchNotFound, Protection: Unprotected}
			info, err := b.api.GetBranch(ctx, p.ID, name)
			if err != nil {
				if !gitlab.IsNotFound(err) {
					res.Error = err.Error()
				}
				results[i] = res
				return nil
			}
			res.Status = BranchExists
			if info.Merged {
				res.Status = BranchMerged
			}
			if info.Protected {
				res.Protection = Protected
			}
			res.WebURL = info.WebURL
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
