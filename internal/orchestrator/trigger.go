package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/pipeline"
)

// Skip reasons reported by RunSelected.
const (
	SkipNoSchedule = "no matching schedule"
	SkipInFlight   = "pipeline already in flight"
	SkipTracked    = "already triggered in this session"
	SkipUnknown    = "pipeline status unknown"
)

// Skipped is a row RunSelected did not trigger.
type Skipped struct {
	Project string `json:"project"`
	Reason  string `json:"reason"`
}

// Failed is a row whose play mutation failed.
type Failed struct {
	Project string `json:"project"`
	Error   string `json:"error"`
}

// RunResult summarises a RunSelected batch.
type RunResult struct {
	Triggered []string  `json:"triggered"`
	Skipped   []Skipped `json:"skipped,omitempty"`
	Failed    []Failed  `json:"failed,omitempty"`
	Tracking  bool      `json:"tracking"`
}

// Summary renders e.g. "triggered 2, skipped 1, failed 0".
func (r *RunResult) Summary() string {
	return fmt.Sprintf("triggered %d, skipped %d, failed %d", len(r.Triggered), len(r.Skipped), len(r.Failed))
}

// RunSelected plays the matched schedule of every row that is not already in
// flight. A row is skipped when it has no schedule, when its status is
// running, pending, or created, when its pipelines could not be fetched, or
// when its project is already in the active set. One failed play does not
// stop the batch; the first failure is returned after all rows are
// processed. When anything is in flight afterwards the track loop is started.
func (o *Orchestrator) RunSelected(ctx context.Context, rows []pipeline.Row) (*RunResult, error) {
	res := &RunResult{}
	var firstErr error

	for _, row := range rows {
		skip := ""
		switch {
		case row.Schedule == nil:
			skip = SkipNoSchedule
		case row.Stale:
			skip = SkipUnknown
		case row.Status.InFlight():
			skip = SkipInFlight
		}
		if skip == "" {
			reserved := o.active.Reserve(ActiveEntry{
				Project:     row.Project,
				Branch:      row.Branch,
				ScheduleID:  row.Schedule.ID,
				Status:      pipeline.StatusCreated,
				LastUpdated: o.now(),
			})
			if !reserved {
				skip = SkipTracked
			}
		}
		if skip != "" {
			res.Skipped = append(res.Skipped, Skipped{Project: row.Project, Reason: skip})
			o.logTrigger(row, db.OutcomeSkipped, skip)
			continue
		}

		if err := o.player.PlaySchedule(ctx, row.Schedule.ID); err != nil {
			o.active.Remove(row.Project)
			o.logger.Warn("schedule play failed", "project", row.Project, "schedule_id", row.Schedule.ID, "error", err)
			res.Failed = append(res.Failed, Failed{Project: row.Project, Error: err.Error()})
			o.logTrigger(row, db.OutcomeFailed, err.Error())
			if firstErr == nil {
				firstErr = fmt.Errorf("trigger %s: %w", row.Project, err)
			}
			continue
		}

		o.logger.Info("schedule triggered", "project", row.Project, "branch", row.Branch, "schedule_id", row.Schedule.ID)
		res.Triggered = append(res.Triggered, row.Project)
		o.logTrigger(row, db.OutcomeTriggered, "")
	}

	if o.active.Len() > 0 {
		o.StartTracking(ctx)
		res.Tracking = true
	}
	return res, firstErr
}

func (o *Orchestrator) logTrigger(row pipeline.Row, outcome, message string) {
	if o.events == nil {
		return
	}
	err := o.events.LogTrigger(db.Trigger{
		Project:    row.Project,
		Branch:     row.Branch,
		ScheduleID: row.ScheduleID(),
		Outcome:    outcome,
		Message:    message,
	}, o.now())
	if err != nil {
		o.logger.Warn("recording trigger failed", "project", row.Project, "error", err)
	}
}

// StartTracking starts the track loop unless it is already running. It
// reports whether a new loop was started.
func (o *Orchestrator) StartTracking(ctx context.Context) bool {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loopDone != nil {
		return false
	}
	done := make(chan struct{})
	o.loopDone = done
	go o.trackLoop(ctx, done)
	return true
}

// Tracking reports whether the track loop is running.
func (o *Orchestrator) Tracking() bool {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	return o.loopDone != nil
}

// WaitTracking blocks until the track loop exits. ctx must be the context
// tracking was started with: when it is done first, WaitTracking still waits
// for the loop to finish its current poll, so the caller may close its sinks
// afterwards, and returns ctx.Err(). It returns immediately when no loop is
// running.
func (o *Orchestrator) WaitTracking(ctx context.Context) error {
	o.loopMu.Lock()
	done := o.loopDone
	o.loopMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		<-done
		return ctx.Err()
	}
}

// trackLoop re-polls every branch with active entries each interval and
// exits once the active set is empty or ctx is done.
func (o *Orchestrator) trackLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(o.trackInterval)
	defer ticker.Stop()
	defer func() {
		o.loopMu.Lock()
		o.loopDone = nil
		o.loopMu.Unlock()
		close(done)
	}()

	o.logger.Info("tracking started", "active", o.active.Len(), "interval", o.trackInterval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("tracking cancelled")
			return
		case <-ticker.C:
		}

		for _, branch := range o.active.Branches() {
			if ctx.Err() != nil {
				break
			}
			if _, err := o.Poll(ctx, branch); err != nil {
				o.logger.Warn("track poll had errors", "branch", branch, "error", err)
			}
		}
		if o.active.Len() == 0 {
			o.logger.Info("tracking finished: no pipelines in flight")
			return
		}
	}
}
