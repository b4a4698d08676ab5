// Package pipeline reduces raw GitLab pipeline and schedule data into one
// status row per watched project and branch.
package pipeline

import (
	"strings"
	"time"

	"github.com/lucasnoah/glwatch/internal/compare"
)

// Status is a normalised pipeline status.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusCreated  Status = "CREATED"
	StatusRunning  Status = "RUNNING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
	StatusUnknown  Status = "UNKNOWN"

	// StatusNotRun marks a row whose project has no pipeline on the branch.
	StatusNotRun Status = "NOT RUN"
)

// ParseStatus maps a GitLab status string, in any case, to a Status.
// Queue states that precede "pending" collapse into it.
func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "WAITING_FOR_RESOURCE", "PREPARING":
		return StatusPending
	case "CREATED":
		return StatusCreated
	case "RUNNING":
		return StatusRunning
	case "SUCCESS":
		return StatusSuccess
	case "FAILED":
		return StatusFailed
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	}
	return StatusUnknown
}

// Terminal reports whether s is success, failed, or canceled.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// InFlight reports whether s is running, pending, or created: a pipeline
// that exists and has not finished.
func (s Status) InFlight() bool {
	return s == StatusRunning || s == StatusPending || s == StatusCreated
}

// Source tells scheduled pipelines apart from everything else.
type Source string

const (
	SourceSchedule Source = "SCHEDULE"
	SourceOther    Source = "OTHER"
)

// ParseSource maps a GitLab pipeline source.
func ParseSource(raw string) Source {
	if strings.EqualFold(raw, "schedule") {
		return SourceSchedule
	}
	return SourceOther
}

// Observation is one pipeline as fetched during a poll.
type Observation struct {
	Project    string    `json:"project"`
	PipelineID string    `json:"pipeline_id"`
	IID        string    `json:"iid,omitempty"`
	Status     Status    `json:"status"`
	Source     Source    `json:"source"`
	Ref        string    `json:"ref"`
	SHA        string    `json:"sha"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	User       string    `json:"triggering_user,omitempty"`
}

// ScheduleMatch is the pipeline schedule whose ref equals the polled branch.
type ScheduleMatch struct {
	ID          string `json:"schedule_id"`
	Description string `json:"description"`
	Ref         string `json:"ref"`
	Active      bool   `json:"active"`
}

// DeployLag holds the per-project deploy facts derived during a poll.
type DeployLag struct {
	OpenMRs     compare.Count `json:"open_mr_count"`
	SinceDeploy compare.Count `json:"commits_since_last_deploy"`
}

// Row is the current status of one project on one branch.
type Row struct {
	ProjectID   int            `json:"project_id"`
	Project     string         `json:"project"`
	Type        string         `json:"type"`
	Branch      string         `json:"branch"`
	Status      Status         `json:"status"`
	Latest      *Observation   `json:"latest,omitempty"`
	Scheduled   *Observation   `json:"latest_scheduled,omitempty"`
	LastDeploy  *Observation   `json:"last_deploy,omitempty"`
	Schedule    *ScheduleMatch `json:"schedule,omitempty"`
	ScheduleURL string         `json:"schedule_url"`
	Lag         DeployLag      `json:"lag"`
	Error       string         `json:"error,omitempty"`

	// Stale is set when the project's pipelines could not be fetched. Status
	// is then UNKNOWN and says nothing about what is running.
	Stale bool `json:"stale,omitempty"`
}

// ScheduleID returns the matched schedule ID or "".
func (r Row) ScheduleID() string {
	if r.Schedule == nil {
		return ""
	}
	return r.Schedule.ID
}

// ProjectType classifies a project as "common", "ui", or "api" by name.
func ProjectType(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "common"):
		return "common"
	case strings.Contains(n, "ui"):
		return "ui"
	}
	return "api"
}
