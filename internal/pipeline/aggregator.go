package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/glwatch/internal/compare"
	"github.com/lucasnoah/glwatch/internal/gitlab"
)

// ErrEmptyBranch is returned before any request when no branch is given.
var ErrEmptyBranch = errors.New("branch name is required")

// API is the subset of the GitLab client the aggregator needs.
type API interface {
	compare.API
	BranchPipelines(ctx context.Context, projects []gitlab.ProjectRef, ref string) (map[string]*gitlab.BranchPipelines, error)
	PipelineSchedules(ctx context.Context, projects []gitlab.ProjectRef) (map[string][]gitlab.Schedule, error)
}

// Options configures an Aggregator.
type Options struct {
	// BaseURL is the GitLab instance root, used for schedule links.
	BaseURL string

	// MaxConcurrency caps concurrent deploy-lag compare calls.
	MaxConcurrency int

	Logger *slog.Logger
}

// Aggregator builds PipelineRows for a set of projects on one branch.
type Aggregator struct {
	api        API
	comparator *compare.Comparator
	baseURL    string
	limit      int
	logger     *slog.Logger
}

// NewAggregator returns an Aggregator over api.
func NewAggregator(api API, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Aggregator{
		api:        api,
		comparator: compare.New(api, limit, logger),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		limit:      limit,
		logger:     logger,
	}
}

// Aggregate returns exactly one row per project, in input order. Pipelines
// with open MR counts and schedules are fetched as two batched queries, then
// deploy lag is computed per project with a bounded fan-out. Fetch failures
// degrade the affected rows and are also returned joined; the rows are valid
// either way.
func (a *Aggregator) Aggregate(ctx context.Context, projects []gitlab.ProjectRef, branch string) ([]Row, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return nil, ErrEmptyBranch
	}

	var (
		pipelines map[string]*gitlab.BranchPipelines
		schedules map[string][]gitlab.Schedule
		pipesErr  error
		schedErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		pipelines, pipesErr = a.api.BranchPipelines(ctx, projects, branch)
		return nil
	})
	g.Go(func() error {
		schedules, schedErr = a.api.PipelineSchedules(ctx, projects)
		return nil
	})
	_ = g.Wait()

	if pipesErr != nil {
		a.logger.Warn("pipeline fetch failed", "branch", branch, "error", pipesErr)
	}
	if schedErr != nil {
		a.logger.Warn("schedule fetch failed", "branch", branch, "error", schedErr)
	}

	rows := make([]Row, len(projects))
	for i, p := range projects {
		row := Row{
			ProjectID:   p.ID,
			Project:     p.Name,
			Type:        ProjectType(p.Name),
			Branch:      branch,
			Status:      StatusNotRun,
			ScheduleURL: a.scheduleURL(p),
			Lag:         DeployLag{OpenMRs: compare.Unknown, SinceDeploy: compare.Unknown},
		}

		switch bp, ok := pipelines[p.Name]; {
		case pipesErr != nil:
			row.Status = StatusUnknown
			row.Stale = true
			row.Error = pipesErr.Error()
		case !ok:
			row.Error = fmt.Sprintf("project %s not found or not accessible", p.FullPath)
		default:
			obs := observations(p.Name, bp.Pipelines)
			row.Latest = latest(obs, func(Observation) bool { return true })
			row.Scheduled = latest(obs, func(o Observation) bool { return o.Source == SourceSchedule })
			row.LastDeploy = latest(obs, func(o Observation) bool {
				return o.Source == SourceSchedule && o.Status == StatusSuccess
			})
			if row.Latest != nil {
				row.Status = row.Latest.Status
			}
			row.Lag.OpenMRs = compare.Known(bp.OpenMRCount)
		}

		if schedErr == nil {
			row.Schedule = MatchSchedule(schedules[p.Name], branch)
		}
		rows[i] = row
	}

	a.fillDeployLag(ctx, rows)
	return rows, errors.Join(pipesErr, schedErr)
}

// fillDeployLag counts commits on the branch since each row's last
// successful scheduled pipeline. Rows without one keep an unknown lag.
func (a *Aggregator) fillDeployLag(ctx context.Context, rows []Row) {
	var g errgroup.Group
	g.SetLimit(a.limit)
	for i := range rows {
		r := &rows[i]
		if r.LastDeploy == nil || r.LastDeploy.SHA == "" {
			continue
		}
		g.Go(func() error {
			d := a.comparator.Compare(ctx, r.ProjectID, r.LastDeploy.SHA, r.Branch)
			r.Lag.SinceDeploy = d.Ahead
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Aggregator) scheduleURL(p gitlab.ProjectRef) string {
	if a.baseURL == "" {
		return ""
	}
	return a.baseURL + "/" + p.FullPath + "/-/pipeline_schedules"
}

// MatchSchedule returns the schedule whose ref equals branch, ignoring case.
// There is no prefix or description fallback: no exact match means no
// schedule. An active match wins over an inactive one.
func MatchSchedule(schedules []gitlab.Schedule, branch string) *ScheduleMatch {
	var found *ScheduleMatch
	for _, s := range schedules {
		if !strings.EqualFold(s.Ref, branch) {
			continue
		}
		m := &ScheduleMatch{ID: s.ID, Description: s.Description, Ref: s.Ref, Active: s.Active}
		if s.Active {
			return m
		}
		if found == nil {
			found = m
		}
	}
	return found
}

func observations(project string, nodes []gitlab.Pipeline) []Observation {
	out := make([]Observation, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Observation{
			Project:    project,
			PipelineID: n.ID,
			IID:        n.IID,
			Status:     ParseStatus(n.Status),
			Source:     ParseSource(n.Source),
			Ref:        n.Ref,
			SHA:        n.SHA,
			CreatedAt:  n.CreatedAt.Time,
			StartedAt:  n.StartedAt.Time,
			FinishedAt: n.FinishedAt.Time,
			User:       n.UserName(),
		})
	}
	return out
}

// latest returns the matching observation with the greatest CreatedAt. On a
// tie the earlier one in API order wins.
func latest(obs []Observation, match func(Observation) bool) *Observation {
	var best *Observation
	var bestAt time.Time
	for i := range obs {
		if !match(obs[i]) {
			continue
		}
		if best == nil || obs[i].CreatedAt.After(bestAt) {
			best = &obs[i]
			bestAt = obs[i].CreatedAt
		}
	}
	if best == nil {
		return nil
	}
	o := *best
	return &o
}
