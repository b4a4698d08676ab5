// Package compare computes branch existence and ahead/behind commit counts
// between two refs across watched projects.
package compare

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/glwatch/internal/gitlab"
)

// API is the subset of the GitLab client the comparator needs.
type API interface {
	CommitSHAs(ctx context.Context, projects []gitlab.ProjectRef, source, target string) (map[string]gitlab.CommitPair, error)
	Compare(ctx context.Context, projectID int, from, to string) (*gitlab.Comparison, error)
}

// Divergence is the one-directional comparison of two refs.
type Divergence struct {
	Exists  bool
	Ahead   Count
	Commits []gitlab.Commit
	Diffs   []gitlab.FileDiff
}

// Merge request status labels for a source/target pair.
const (
	MRNone     = "No MR"
	MRCreated  = "Created"
	MRMerged   = "Merged"
	MRRejected = "Rejected"
)

// Deploy readiness texts.
const (
	ReadySourceMissing = "Source branch does not exist"
	ReadyTargetMissing = "Target branch does not exist"
	ReadyNothing       = "Nothing to deploy"
	ReadyManualConfig  = "Manual config deployment required"
	ReadyToDeploy      = "Ready to deploy"
	ReadyUnknown       = "Unable to determine"
)

// Result is one project's comparison of source against target.
type Result struct {
	Project       string          `json:"project"`
	ProjectID     int             `json:"project_id"`
	Source        string          `json:"source"`
	Target        string          `json:"target"`
	SourceExists  bool            `json:"source_exists"`
	TargetExists  bool            `json:"target_exists"`
	Ahead         Count           `json:"ahead"`
	Behind        Count           `json:"behind"`
	Commits       []gitlab.Commit `json:"commits,omitempty"`
	ConfigChanges []ConfigChange  `json:"config_changes,omitempty"`
	MRStatus      string          `json:"mr_status"`
	Error         string          `json:"error,omitempty"`
}

// Readiness summarises whether source can be deployed onto target. An
// unknown lookup or ahead count reads as ReadyUnknown, never as nothing to
// deploy.
func (r Result) Readiness() string {
	switch {
	case r.Error != "":
		return ReadyUnknown
	case !r.SourceExists:
		return ReadySourceMissing
	case !r.TargetExists:
		return ReadyTargetMissing
	case !r.Ahead.IsKnown():
		return ReadyUnknown
	case r.Ahead.IsZero():
		return ReadyNothing
	case len(r.ConfigChanges) > 0:
		return ReadyManualConfig
	}
	return ReadyToDeploy
}

// Comparator runs comparisons with bounded concurrency.
type Comparator struct {
	api    API
	limit  int
	logger *slog.Logger
}

// New returns a Comparator issuing at most limit compare calls at once.
func New(api API, limit int, logger *slog.Logger) *Comparator {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{api: api, limit: limit, logger: logger}
}

// Compare returns the commits reachable from to but not from from. Any
// failure yields Exists=false with an Unknown count, never zero.
func (c *Comparator) Compare(ctx context.Context, projectID int, from, to string) Divergence {
	cmp, err := c.api.Compare(ctx, projectID, from, to)
	if err != nil {
		c.logger.Warn("compare failed", "project_id", projectID, "from", from, "to", to, "error", err)
		return Divergence{Ahead: Unknown}
	}
	return Divergence{
		Exists:  true,
		Ahead:   Known(len(cmp.Commits)),
		Commits: cmp.Commits,
		Diffs:   cmp.Diffs,
	}
}

// CompareProjects compares source against target in every project. SHAs are
// resolved in one batched query, then ahead and behind are two directed
// compare calls per project. The result has one entry per project, in input
// order.
func (c *Comparator) CompareProjects(ctx context.Context, projects []gitlab.ProjectRef, source, target string) []Result {
	results := make([]Result, len(projects))
	for i, p := range projects {
		results[i] = Result{
			Project:   p.Name,
			ProjectID: p.ID,
			Source:    source,
			Target:    target,
			Ahead:     Unknown,
			Behind:    Unknown,
			MRStatus:  MRNone,
		}
	}
	if len(projects) == 0 {
		return results
	}

	shas, err := c.api.CommitSHAs(ctx, projects, source, target)
	if err != nil {
		c.logger.Warn("commit lookup failed", "source", source, "target", target, "error", err)
		for i := range results {
			results[i].Error = err.Error()
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, p := range projects {
		pair, ok := shas[p.Name]
		if !ok {
			continue
		}
		r := &results[i]
		r.SourceExists = pair.SourceSHA != ""
		r.TargetExists = pair.TargetSHA != ""
		r.MRStatus = mrStatus(pair.MRState)
		if !r.SourceExists || !r.TargetExists {
			continue
		}

		g.Go(func() error {
			ahead := c.Compare(gctx, p.ID, pair.TargetSHA, pair.SourceSHA)
			behind := c.Compare(gctx, p.ID, pair.SourceSHA, pair.TargetSHA)
			r.Ahead = ahead.Ahead
			r.Behind = behind.Ahead
			r.Commits = ahead.Commits
			r.ConfigChanges = ConfigChanges(ahead.Diffs)
			return nil
		})
	}
	// Workers never return errors; each degrades its own row.
	_ = g.Wait()
	return results
}

func mrStatus(state string) string {
	switch state {
	case "":
		return MRNone
	case "merged":
		return MRMerged
	case "closed":
		return MRRejected
	}
	return MRCreated
}
