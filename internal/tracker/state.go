// Package tracker detects pipeline state transitions per branch and project
// and turns genuine transitions into notifications.
package tracker

import "github.com/lucasnoah/glwatch/internal/pipeline"

// State is the tracked state of a (branch, project) key.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Classify maps a pipeline status to a State. Only RUNNING counts as
// running: pending and created stay idle here, even though the trigger
// coordinator treats them as in flight.
func Classify(s pipeline.Status) State {
	switch {
	case s == pipeline.StatusRunning:
		return StateRunning
	case s.Terminal():
		return StateCompleted
	}
	return StateIdle
}

// Action is what a transition announces. ActionNone means no notification.
type Action string

const (
	ActionNone      Action = ""
	ActionStarted   Action = "STARTED"
	ActionCompleted Action = "COMPLETED"
	ActionStopped   Action = "STOPPED"
)

// Transition returns the action for moving from prev to next.
//
//	idle      -> running    STARTED
//	completed -> running    STARTED
//	running   -> completed  COMPLETED
//	running   -> idle       STOPPED
//	idle      -> completed  none
//	same      -> same       none
func Transition(prev, next State) Action {
	if prev == next {
		return ActionNone
	}
	switch {
	case next == StateRunning:
		return ActionStarted
	case prev == StateRunning && next == StateCompleted:
		return ActionCompleted
	case prev == StateRunning && next == StateIdle:
		return ActionStopped
	}
	return ActionNone
}

// Key identifies one tracked (branch, project) pair.
type Key struct {
	Branch  string
	Project string
}

// String renders the key as "{branch}:{project}".
func (k Key) String() string {
	return k.Branch + ":" + k.Project
}
