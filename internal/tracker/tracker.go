package tracker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lucasnoah/glwatch/internal/pipeline"
)

// Notification is emitted for every transition whose action is not none.
type Notification struct {
	Key        string          `json:"key"`
	Branch     string          `json:"branch"`
	Project    string          `json:"project"`
	Role       string          `json:"role"`
	Action     Action          `json:"action"`
	Previous   State           `json:"previous"`
	Current    State           `json:"current"`
	Status     pipeline.Status `json:"status"`
	PipelineID string          `json:"pipeline_id,omitempty"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	At         time.Time       `json:"at"`
}

// RoleFunc labels a branch for notification titles (SUPPORT, RELEASE, UAT).
type RoleFunc func(branch string) string

// Tracker holds the last observed State per key for the process lifetime.
// Keys never observed read as idle. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[Key]State

	role   RoleFunc
	now    func() time.Time
	logger *slog.Logger
}

// New returns an empty Tracker. A nil role labels branches by name.
func New(role RoleFunc, logger *slog.Logger) *Tracker {
	if role == nil {
		role = func(branch string) string { return branch }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		states: make(map[Key]State),
		role:   role,
		now:    time.Now,
		logger: logger,
	}
}

// Observe feeds one poll's rows for branch into the state machine. Only the
// latest scheduled pipeline of each row counts; a row without one forces
// idle. Stale rows carry no pipeline data and leave their key untouched.
// Otherwise the stored state is overwritten, and a notification is returned
// only when the transition announces something.
func (t *Tracker) Observe(branch string, rows []pipeline.Row) []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Notification
	for _, row := range rows {
		if row.Stale {
			continue
		}
		key := Key{Branch: branch, Project: row.Project}

		next := StateIdle
		status := pipeline.StatusNotRun
		pipelineID := ""
		if row.Scheduled != nil {
			status = row.Scheduled.Status
			pipelineID = row.Scheduled.PipelineID
			next = Classify(status)
		}

		prev, ok := t.states[key]
		if !ok {
			prev = StateIdle
		}
		t.states[key] = next

		action := Transition(prev, next)
		if action == ActionNone {
			continue
		}
		n := t.notification(key, prev, next, action, status, pipelineID)
		t.logger.Info("pipeline transition",
			"key", n.Key,
			"previous", prev,
			"current", next,
			"action", action,
		)
		out = append(out, n)
	}
	return out
}

// State returns the stored state of key, idle when never observed.
func (t *Tracker) State(key Key) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[key]; ok {
		return s
	}
	return StateIdle
}

// Entry is one stored key and its state.
type Entry struct {
	Key   Key
	State State
}

// Snapshot returns every observed key sorted by branch then project.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.states))
	for k, s := range t.states {
		out = append(out, Entry{Key: k, State: s})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Branch != out[j].Key.Branch {
			return out[i].Key.Branch < out[j].Key.Branch
		}
		return out[i].Key.Project < out[j].Key.Project
	})
	return out
}

func (t *Tracker) notification(key Key, prev, next State, action Action, status pipeline.Status, pipelineID string) Notification {
	role := t.role(key.Branch)
	n := Notification{
		Key:        key.String(),
		Branch:     key.Branch,
		Project:    key.Project,
		Role:       role,
		Action:     action,
		Previous:   prev,
		Current:    next,
		Status:     status,
		PipelineID: pipelineID,
		At:         t.now(),
	}
	switch action {
	case ActionStarted:
		n.Title = fmt.Sprintf("🚀 %s pipeline started", role)
		n.Body = fmt.Sprintf("%s: pipeline started on %s", key.Project, key.Branch)
	case ActionCompleted:
		icon := "✅"
		if status != pipeline.StatusSuccess {
			icon = "❌"
		}
		n.Title = fmt.Sprintf("%s %s pipeline completed", icon, role)
		n.Body = fmt.Sprintf("%s: pipeline finished on %s with %s", key.Project, key.Branch, status)
	case ActionStopped:
		n.Title = fmt.Sprintf("⏹ %s pipeline stopped", role)
		n.Body = fmt.Sprintf("%s: pipeline on %s is no longer running", key.Project, key.Branch)
	}
	return n
}
