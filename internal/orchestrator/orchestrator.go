// Package orchestrator owns the poll cycle: it aggregates pipeline rows,
// feeds them to the state tracker, triggers schedules on demand, and keeps
// polling until triggered pipelines finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/gitlab"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

// Aggregator produces one row per project for a branch.
type Aggregator interface {
	Aggregate(ctx context.Context, projects []gitlab.ProjectRef, branch string) ([]pipeline.Row, error)
}

// SchedulePlayer runs a pipeline schedule now.
type SchedulePlayer interface {
	PlaySchedule(ctx context.Context, scheduleID string) error
}

// EventLog records transitions and trigger attempts.
type EventLog interface {
	LogTransition(t db.Transition, at time.Time) error
	LogTrigger(t db.Trigger, at time.Time) error
}

// Emitter accepts notifications without blocking.
type Emitter interface {
	Emit(n tracker.Notification)
}

// Deps are the collaborators of an Orchestrator. Events and Emitter may be
// nil.
type Deps struct {
	Aggregator Aggregator
	Player     SchedulePlayer
	Tracker    *tracker.Tracker
	Events     EventLog
	Emitter    Emitter
}

// Options configures an Orchestrator.
type Options struct {
	// Projects are the watched projects, in display order.
	Projects []gitlab.ProjectRef

	// Branches is the BranchSet polled by CheckIn, in display order.
	Branches []string

	// TrackInterval is the track loop period. Defaults to 60s.
	TrackInterval time.Duration

	// OnRows, if set, receives every poll's rows.
	OnRows func(branch string, rows []pipeline.Row)

	Logger *slog.Logger
}

// Orchestrator composes polling, transition tracking, and triggering. The
// tracker state and the active set live for the life of the process.
type Orchestrator struct {
	agg     Aggregator
	player  SchedulePlayer
	tracker *tracker.Tracker
	events  EventLog
	emitter Emitter
	active  *ActiveSet

	projects      []gitlab.ProjectRef
	branches      []string
	trackInterval time.Duration
	onRows        func(string, []pipeline.Row)
	logger        *slog.Logger
	now           func() time.Time

	polls singleflight.Group

	rowsMu   sync.RWMutex
	lastRows map[string][]pipeline.Row

	loopMu   sync.Mutex
	loopDone chan struct{}
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.TrackInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	tr := deps.Tracker
	if tr == nil {
		tr = tracker.New(nil, logger)
	}
	return &Orchestrator{
		agg:           deps.Aggregator,
		player:        deps.Player,
		tracker:       tr,
		events:        deps.Events,
		emitter:       deps.Emitter,
		active:        NewActiveSet(),
		projects:      opts.Projects,
		branches:      opts.Branches,
		trackInterval: interval,
		onRows:        opts.OnRows,
		logger:        logger,
		now:           time.Now,
		lastRows:      make(map[string][]pipeline.Row),
	}
}

// Active returns the set of in-flight pipelines.
func (o *Orchestrator) Active() *ActiveSet { return o.active }

// Tracker returns the transition tracker.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Projects returns the watched projects.
func (o *Orchestrator) Projects() []gitlab.ProjectRef { return o.projects }

// Branches returns the BranchSet.
func (o *Orchestrator) Branches() []string { return o.branches }

// Rows returns the rows of the last completed poll of branch.
func (o *Orchestrator) Rows(branch string) []pipeline.Row {
	o.rowsMu.RLock()
	defer o.rowsMu.RUnlock()
	return o.lastRows[branch]
}

// PollResult is the outcome of one poll of one branch.
type PollResult struct {
	Branch        string                 `json:"branch"`
	Rows          []pipeline.Row         `json:"rows"`
	Notifications []tracker.Notification `json:"notifications,omitempty"`
	Settled       []string               `json:"settled,omitempty"`
}

// Poll aggregates branch once, runs the rows through the tracker, and
// reconciles the active set. Concurrent polls of the same branch share one
// aggregation. The returned error reports fetch problems; the rows are
// usable regardless.
func (o *Orchestrator) Poll(ctx context.Context, branch string) (*PollResult, error) {
	type shared struct {
		res *PollResult
		err error
	}
	v, _, _ := o.polls.Do(branch, func() (any, error) {
		res, err := o.poll(ctx, branch)
		return shared{res, err}, nil
	})
	s := v.(shared)
	return s.res, s.err
}

func (o *Orchestrator) poll(ctx context.Context, branch string) (*PollResult, error) {
	rows, err := o.agg.Aggregate(ctx, o.projects, branch)
	if rows == nil {
		return nil, err
	}

	now := o.now()
	notes := o.tracker.Observe(branch, rows)
	for _, n := range notes {
		o.record(n)
	}
	settled := o.active.Reconcile(branch, rows, now)
	for _, p := range settled {
		o.logger.Info("tracked pipeline settled", "project", p, "branch", branch)
	}

	o.rowsMu.Lock()
	o.lastRows[branch] = rows
	o.rowsMu.Unlock()
	if o.onRows != nil {
		o.onRows(branch, rows)
	}

	return &PollResult{Branch: branch, Rows: rows, Notifications: notes, Settled: settled}, err
}

func (o *Orchestrator) record(n tracker.Notification) {
	if o.emitter != nil {
		o.emitter.Emit(n)
	}
	if o.events == nil {
		return
	}
	err := o.events.LogTransition(db.Transition{
		Branch:     n.Branch,
		Project:    n.Project,
		Previous:   string(n.Previous),
		Current:    string(n.Current),
		Action:     string(n.Action),
		Status:     string(n.Status),
		PipelineID: n.PipelineID,
	}, n.At)
	if err != nil {
		o.logger.Warn("recording transition failed", "key", n.Key, "error", err)
	}
}

// CheckInResult is the outcome of polling every branch once.
type CheckInResult struct {
	Polls []PollResult `json:"polls"`
}

// CheckIn polls every branch in the BranchSet. A failing branch does not
// stop the others; errors are joined.
func (o *Orchestrator) CheckIn(ctx context.Context) (*CheckInResult, error) {
	results := make([]*PollResult, len(o.branches))
	errs := make([]error, len(o.branches))

	var g errgroup.Group
	for i, branch := range o.branches {
		g.Go(func() error {
			res, err := o.Poll(ctx, branch)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("poll %s: %w", branch, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &CheckInResult{}
	for _, r := range results {
		if r != nil {
			out.Polls = append(out.Polls, *r)
		}
	}
	return out, errors.Join(errs...)
}

// Watch runs CheckIn immediately and then every interval until ctx is done.
// Each cycle's result goes to onCycle when it is set.
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration, onCycle func(*CheckInResult, error)) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := o.CheckIn(ctx)
		if err != nil {
			o.logger.Warn("poll cycle had errors", "error", err)
		}
		if onCycle != nil {
			onCycle(res, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
