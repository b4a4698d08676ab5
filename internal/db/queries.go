package db

import (
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Transition represents a row in the transitions table.
type Transition struct {
	ID         int    `json:"id"`
	Branch     string `json:"branch"`
	Project    string `json:"project"`
	Previous   string `json:"previous"`
	Current    string `json:"current"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
}

// Trigger represents a row in the triggers table.
type Trigger struct {
	ID         int    `json:"id"`
	Project    string `json:"project"`
	Branch     string `json:"branch"`
	ScheduleID string `json:"schedule_id"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// Trigger outcomes.
const (
	OutcomeTriggered = "triggered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// LogTransition inserts a transition. A zero at records the current time.
func (d *DB) LogTransition(t Transition, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.conn.Exec(
		`INSERT INTO transitions (branch, project, previous, current, action, status, pipeline_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Branch, t.Project, t.Previous, t.Current, t.Action, t.Status, t.PipelineID, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}

// LogTrigger inserts a trigger attempt. A zero at records the current time.
func (d *DB) LogTrigger(t Trigger, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.conn.Exec(
		`INSERT INTO triggers (project, branch, schedule_id, outcome, message, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Project, t.Branch, t.ScheduleID, t.Outcome, t.Message, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log trigger: %w", err)
	}
	return nil
}

// RecentTransitions returns the newest transitions first. An empty branch
// matches every branch.
func (d *DB) RecentTransitions(branch string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, branch, project, previous, current, action, status, pipeline_id, timestamp
		 FROM transitions
		 WHERE ? = '' OR branch = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		branch, branch, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var status, pipelineID sql.NullString
		if err := rows.Scan(&t.ID, &t.Branch, &t.Project, &t.Previous, &t.Current, &t.Action, &status, &pipelineID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Status = status.String
		t.PipelineID = pipelineID.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentTriggers returns the newest trigger attempts first.
func (d *DB) RecentTriggers(limit int) ([]Trigger, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, project, branch, schedule_id, outcome, message, timestamp
		 FROM triggers ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		var t Trigger
		var scheduleID, message sql.NullString
		if err := rows.Scan(&t.ID, &t.Project, &t.Branch, &scheduleID, &t.Outcome, &message, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.ScheduleID = scheduleID.String
		t.Message = message.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastTransition returns the newest transition for a branch and project,
// or nil when there is none.
func (d *DB) LastTransition(branch, project string) (*Transition, error) {
	var t Transition
	var status, pipelineID sql.NullString
	err := d.conn.QueryRow(
		`SELECT id, branch, project, previous, current, action, status, pipeline_id, timestamp
		 FROM transitions WHERE branch = ? AND project = ?
		 ORDER BY id DESC LIMIT 1`,
		branch, project,
	).Scan(&t.ID, &t.Branch, &t.Project, &t.Previous, &t.Current, &t.Action, &status, &pipelineID, &t.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last transition: %w", err)
	}
	t.Status = status.String
	t.PipelineID = pipelineID.String
	return &t, nil
}

// PruneBefore deletes history older than cutoff and returns the number of
// rows removed.
func (d *DB) PruneBefore(cutoff time.Time) (int, error) {
	ts := cutoff.UTC().Format(timeLayout)
	total := 0
	for _, table := range []string{"transitions", "triggers"} {
		res, err := d.conn.Exec("DELETE FROM "+table+" WHERE timestamp < ?", ts)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}
